package dtls

import (
	"fmt"

	"github.com/dalbodeule/hop-dtls/internal/logging"
)

// KeyStore 는 서버 측에서 클라이언트가 보낸 PSK identity 에 대응하는 secret 을 찾습니다.
type KeyStore interface {
	LookupPSK(identity []byte) ([]byte, error)
}

// StaticKeyStore 는 설정(HOP_DTLS_PSKS)에서 읽은 identity → secret 맵을 그대로 사용하는 KeyStore 입니다.
// 조회 실패 시 핸드셰이크는 거부됩니다.
type StaticKeyStore struct {
	Keys   map[string]string
	Logger logging.Logger
}

func (k StaticKeyStore) LookupPSK(identity []byte) ([]byte, error) {
	secret, ok := k.Keys[string(identity)]
	if !ok || secret == "" {
		if k.Logger != nil {
			k.Logger.Warn("unknown psk identity", logging.Fields{
				"psk_identity_masked": maskKey(string(identity)),
			})
		}
		return nil, fmt.Errorf("unknown psk identity")
	}
	if k.Logger != nil {
		k.Logger.Debug("psk identity accepted", logging.Fields{
			"psk_identity_masked": maskKey(string(identity)),
		})
	}
	return []byte(secret), nil
}
