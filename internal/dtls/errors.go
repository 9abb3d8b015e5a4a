package dtls

import (
	"errors"
	"fmt"
)

// ErrorKind 는 세션 계층이 호출자에게 노출하는 에러 종류입니다.
type ErrorKind int

const (
	KindInvalidCredentials ErrorKind = iota + 1
	KindInvalidEndpoint
	KindIllegalState
	KindNotReady
	KindHandshakeFailure
	KindDecryptionFailure
	KindEncryptionFailure
	KindPayloadTooLarge
	KindTransportClosed
	KindCancelled
)

var kindNames = map[ErrorKind]string{
	KindInvalidCredentials: "invalid_credentials",
	KindInvalidEndpoint:    "invalid_endpoint",
	KindIllegalState:       "illegal_state",
	KindNotReady:           "not_ready",
	KindHandshakeFailure:   "handshake_failure",
	KindDecryptionFailure:  "decryption_failure",
	KindEncryptionFailure:  "encryption_failure",
	KindPayloadTooLarge:    "payload_too_large",
	KindTransportClosed:    "transport_closed",
	KindCancelled:          "cancelled",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel 값들은 errors.Is 비교용입니다. (ko)
// Sentinels for errors.Is; every *Error matches the sentinel of its Kind. (en)
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrInvalidEndpoint    = &Error{Kind: KindInvalidEndpoint}
	ErrIllegalState       = &Error{Kind: KindIllegalState}
	ErrNotReady           = &Error{Kind: KindNotReady}
	ErrHandshakeFailure   = &Error{Kind: KindHandshakeFailure}
	ErrDecryptionFailure  = &Error{Kind: KindDecryptionFailure}
	ErrEncryptionFailure  = &Error{Kind: KindEncryptionFailure}
	ErrPayloadTooLarge    = &Error{Kind: KindPayloadTooLarge}
	ErrTransportClosed    = &Error{Kind: KindTransportClosed}
	ErrCancelled          = &Error{Kind: KindCancelled}
)

// Error 는 Kind 와 발생 지점(Op), 원인(Err)을 담는 세션 에러입니다.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 는 같은 Kind 를 가진 *Error 와 일치합니다.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf 는 err 체인에서 *Error 를 찾아 Kind 를 반환합니다. 없으면 0 입니다.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
