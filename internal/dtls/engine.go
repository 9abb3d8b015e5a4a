package dtls

import (
	"context"
	"fmt"
	"io"

	piondtls "github.com/pion/dtls/v3"

	"github.com/dalbodeule/hop-dtls/internal/logging"
)

// SecureConn 은 핸드셰이크가 끝난 DTLS 연결입니다.
// Write 한 번이 암호화된 레코드 하나이고, Read 한 번이 복호화된 레코드 하나입니다.
type SecureConn interface {
	io.ReadWriteCloser
}

// HandshakeEngine 은 Link 위에서 PSK DTLS 핸드셰이크를 수행합니다.
// 성공/실패를 정확히 한 번 반환하며, ctx 가 끝나면 실패로 반환해야 합니다.
type HandshakeEngine interface {
	Handshake(ctx context.Context, link Link, creds Credentials) (SecureConn, error)
}

// DefaultMTU 는 pion/dtls 의 기본 MTU 와 같습니다.
const DefaultMTU = 1200

// PionEngine 은 pion/dtls/v3 클라이언트로 핸드셰이크를 수행하는 HandshakeEngine 입니다. (ko)
// PionEngine drives a pion/dtls/v3 client handshake using PSK credentials. (en)
type PionEngine struct {
	MTU    int
	Logger logging.Logger
}

// Handshake 는 Link 를 pion Conn 으로 감싸고 HandshakeContext 가 끝날 때까지 기다립니다.
// 실패하면 pion Conn 을 닫습니다. Link 해제는 호출자(세션)의 책임입니다.
func (e *PionEngine) Handshake(ctx context.Context, link Link, creds Credentials) (SecureConn, error) {
	secret := creds.Secret()
	cfg := &piondtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return secret, nil
		},
		PSKIdentityHint:      creds.Identity(),
		CipherSuites:         []piondtls.CipherSuiteID{creds.Suite().ID()},
		ExtendedMasterSecret: piondtls.RequestExtendedMasterSecret,
		MTU:                  e.mtu(),
		LoggerFactory:        logging.PionLoggerFactory(e.Logger),
	}

	conn, err := piondtls.Client(link, link.RemoteAddr(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create dtls client: %w", err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dtls handshake: %w", err)
	}
	return conn, nil
}

func (e *PionEngine) mtu() int {
	if e.MTU > 0 {
		return e.MTU
	}
	return DefaultMTU
}
