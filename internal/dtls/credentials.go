package dtls

import (
	"fmt"
	"strings"

	piondtls "github.com/pion/dtls/v3"
)

// CipherSuite 는 PSK 세션에서 협상할 수 있는 cipher suite 입니다. (ko)
// CipherSuite enumerates the PSK cipher suites a session may negotiate. (en)
type CipherSuite int

const (
	CipherSuiteUnknown CipherSuite = iota
	AES128_CCM
	AES128_CCM8
	AES256_CCM8
	AES128_GCM_SHA256
	AES128_SHA256
	ECDHE_AES128_SHA256
)

var supportedSuites = map[CipherSuite]struct {
	name string
	id   piondtls.CipherSuiteID
}{
	AES128_CCM:          {"AES128_CCM", piondtls.TLS_PSK_WITH_AES_128_CCM},
	AES128_CCM8:         {"AES128_CCM8", piondtls.TLS_PSK_WITH_AES_128_CCM_8},
	AES256_CCM8:         {"AES256_CCM8", piondtls.TLS_PSK_WITH_AES_256_CCM_8},
	AES128_GCM_SHA256:   {"AES128_GCM_SHA256", piondtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
	AES128_SHA256:       {"AES128_SHA256", piondtls.TLS_PSK_WITH_AES_128_CBC_SHA256},
	ECDHE_AES128_SHA256: {"ECDHE_AES128_SHA256", piondtls.TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA256},
}

// Supported 는 정적으로 알려진 suite 인지 여부를 반환합니다.
func (c CipherSuite) Supported() bool {
	_, ok := supportedSuites[c]
	return ok
}

func (c CipherSuite) String() string {
	if s, ok := supportedSuites[c]; ok {
		return s.name
	}
	return fmt.Sprintf("CipherSuite(%d)", int(c))
}

// ID 는 pion/dtls 의 CipherSuiteID 를 반환합니다.
func (c CipherSuite) ID() piondtls.CipherSuiteID {
	return supportedSuites[c].id
}

// ParseCipherSuite 는 "AES128_SHA256" 같은 이름을 대소문자 구분 없이 CipherSuite 로 변환합니다.
func ParseCipherSuite(name string) (CipherSuite, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for suite, s := range supportedSuites {
		if s.name == n {
			return suite, nil
		}
	}
	return CipherSuiteUnknown, newError(KindInvalidCredentials, "parse cipher suite", fmt.Errorf("unsupported cipher suite %q", name))
}

// Credentials 는 PSK identity, secret, cipher suite 를 담습니다.
// 생성 시 복사되며 이후에는 읽기 전용입니다. 핸드셰이크 로직이 별도 동기화 없이 읽을 수 있습니다.
type Credentials struct {
	identity []byte
	secret   []byte
	suite    CipherSuite
}

// NewCredentials 는 입력을 검증하고 Credentials 를 생성합니다.
// identity/secret 이 비어 있거나 suite 가 지원되지 않으면 InvalidCredentials 를 반환합니다.
func NewCredentials(identity, secret string, suite CipherSuite) (Credentials, error) {
	const op = "configure"
	if identity == "" {
		return Credentials{}, newError(KindInvalidCredentials, op, fmt.Errorf("psk identity is empty"))
	}
	if secret == "" {
		return Credentials{}, newError(KindInvalidCredentials, op, fmt.Errorf("psk secret is empty"))
	}
	if !suite.Supported() {
		return Credentials{}, newError(KindInvalidCredentials, op, fmt.Errorf("unsupported cipher suite %s", suite))
	}
	return Credentials{
		identity: []byte(identity),
		secret:   []byte(secret),
		suite:    suite,
	}, nil
}

// Identity 는 PSK identity 의 복사본을 반환합니다.
func (c Credentials) Identity() []byte { return append([]byte(nil), c.identity...) }

// Secret 은 PSK secret 의 복사본을 반환합니다.
func (c Credentials) Secret() []byte { return append([]byte(nil), c.secret...) }

// Suite 는 협상할 cipher suite 입니다.
func (c Credentials) Suite() CipherSuite { return c.suite }

// MaskedIdentity 는 로그용으로 identity 를 일부만 보여줍니다.
func (c Credentials) MaskedIdentity() string { return maskKey(string(c.identity)) }

func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
