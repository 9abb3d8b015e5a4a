package dtls

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dalbodeule/hop-dtls/internal/logging"
	"github.com/dalbodeule/hop-dtls/internal/observability"
)

const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultMaxPayloadSize   = 1024
	defaultReadBufferSize   = 8192
)

// SessionConfig 는 세션이 사용할 외부 협력자와 한도를 정의합니다. (ko)
// SessionConfig wires the external collaborators and limits of a Session. (en)
//
// 값이 비어 있으면 UDPTransport, PionEngine, GoExecutor 와 기본 한도를 사용합니다.
type SessionConfig struct {
	Transport DatagramTransport
	Engine    HandshakeEngine
	// Executor 는 콜백이 실행될 컨텍스트입니다. 여러 세션이 같은 Executor 를 써도
	// 세션마다 별도의 직렬 큐로 감싸므로 한 세션의 콜백은 동시에 실행되지 않습니다.
	Executor Executor
	Logger   logging.Logger

	HandshakeTimeout time.Duration
	MaxPayloadSize   int
	ReadBufferSize   int
}

// Session 은 하나의 PSK DTLS 연결 시도의 생명주기를 소유합니다.
//
// Configure → Connect → (Ready 에서 Send/Receive) → Close 순으로 사용하며,
// 모든 상태 알림, 전송 완료, 수신 전달은 세션 전용 직렬 큐에서 순서대로 실행됩니다.
// Ready, Failed, Cancelled 이후 재연결하지 않으므로 재시도하려면 새 Session 을 만들어야 합니다.
type Session struct {
	id               string
	transport        DatagramTransport
	engine           HandshakeEngine
	queue            *serialQueue
	log              logging.Logger
	handshakeTimeout time.Duration
	maxPayload       int
	readBufSize      int

	sendWake chan struct{}
	recvWake chan struct{}
	stop     chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	state    ConnectionState
	creds    *Credentials
	started  bool
	endpoint Endpoint
	onState  StateHandler
	cancel   context.CancelFunc
	link     Link
	conn     SecureConn
	sendq    []*outbound
	inflight *outbound
	recvq    []ReceiveHandler
	torndown bool
}

// NewSession 은 Idle 상태의 세션을 생성합니다.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	id := uuid.NewString()
	log := logger.With(logging.Fields{"session_id": id})

	s := &Session{
		id:               id,
		transport:        cfg.Transport,
		engine:           cfg.Engine,
		queue:            newSerialQueue(cfg.Executor),
		log:              log,
		handshakeTimeout: cfg.HandshakeTimeout,
		maxPayload:       cfg.MaxPayloadSize,
		readBufSize:      cfg.ReadBufferSize,
		sendWake:         make(chan struct{}, 1),
		recvWake:         make(chan struct{}, 1),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
		state:            StateIdle,
	}
	if s.transport == nil {
		s.transport = &UDPTransport{Logger: log}
	}
	if s.engine == nil {
		s.engine = &PionEngine{Logger: log}
	}
	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = DefaultHandshakeTimeout
	}
	if s.maxPayload <= 0 {
		s.maxPayload = DefaultMaxPayloadSize
	}
	if s.readBufSize < s.maxPayload {
		s.readBufSize = defaultReadBufferSize
		if s.readBufSize < s.maxPayload {
			s.readBufSize = s.maxPayload
		}
	}
	return s
}

// ID 는 로그/메트릭에서 세션을 구분하기 위한 식별자입니다.
func (s *Session) ID() string { return s.id }

// State 는 현재 상태를 반환합니다.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint 는 Connect 에 전달되어 검증된 endpoint 입니다. Connect 전에는 zero value 입니다.
func (s *Session) Endpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Done 은 연결이 시작된 세션이 완전히 정리되면 닫힙니다.
// 닫힌 시점에는 대기 중이던 모든 콜백이 이미 호출된 상태입니다.
func (s *Session) Done() <-chan struct{} { return s.done }

// Configure 는 PSK 자격 증명을 설정합니다.
// 잘못된 입력은 InvalidCredentials, Connect 이후 호출은 IllegalState 이며 어느 경우에도 상태를 바꾸지 않습니다.
func (s *Session) Configure(identity, secret string, suite CipherSuite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return newError(KindIllegalState, "configure", fmt.Errorf("session is %s", s.state))
	}
	creds, err := NewCredentials(identity, secret, suite)
	if err != nil {
		return err
	}
	s.creds = &creds
	s.log.Debug("credentials configured", logging.Fields{
		"psk_identity_masked": creds.MaskedIdentity(),
		"cipher_suite":        suite.String(),
	})
	return nil
}

// Connect 는 host/port 를 검증한 뒤 즉시 반환하고, 연결 진행은 onStateChange 로 알립니다.
//
// 입력 검증 실패(InvalidEndpoint)와 생명주기 오류(IllegalState)만 동기적으로 반환하며,
// 그 외 결과는 모두 onStateChange 로 전달됩니다. 재시도는 하지 않습니다.
func (s *Session) Connect(host, port string, onStateChange StateHandler) error {
	ep, err := ParseEndpoint(host, port)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.unlock()

	if s.started {
		return newError(KindIllegalState, "connect", fmt.Errorf("session is %s", s.state))
	}
	if s.creds == nil {
		return newError(KindIllegalState, "connect", fmt.Errorf("configure must be called before connect"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.started = true
	s.endpoint = ep
	s.onState = onStateChange
	s.cancel = cancel
	s.log = s.log.With(logging.Fields{"endpoint": ep.String()})

	creds := *s.creds
	s.transition(StateWaiting, nil)
	go s.establish(ctx, ep, creds)
	return nil
}

// Close 는 세션을 취소합니다. 여러 번 호출해도 안전하며 콜백 안에서 재진입 호출해도 됩니다.
//
// 대기 중인 Send/Receive 는 Cancelled 로 완료되고, transport 핸들을 해제한 뒤
// Cancelled 알림을 한 번 보냅니다. 시작 전이거나 이미 종료된 세션에서는 아무 일도 하지 않습니다.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.started || s.state.Terminal() {
		s.unlock()
		return
	}
	s.drainPending(newError(KindCancelled, "close", nil))
	s.transition(StateCancelled, nil)
	release := s.teardown()
	s.unlock()

	s.finish(release)
}

// establish 는 경로 대기 → 핸드셰이크 → Ready 까지를 진행합니다.
// 각 단계 이후 상태를 다시 확인해 Close 와의 경합에서 자원을 누수하지 않습니다.
func (s *Session) establish(ctx context.Context, ep Endpoint, creds Credentials) {
	link, err := s.transport.Open(ctx, ep)
	if err != nil {
		if KindOf(err) == 0 {
			err = newError(KindTransportClosed, "open", err)
		}
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.state != StateWaiting {
		s.unlock()
		_ = link.Close()
		return
	}
	s.link = link
	s.transition(StatePreparing, nil)
	s.unlock()

	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	conn, err := s.engine.Handshake(hctx, link, creds)
	cancel()
	if err == nil && conn == nil {
		err = fmt.Errorf("handshake engine returned no connection")
	}
	if err != nil {
		if ctx.Err() == nil {
			observability.DTLSHandshakesTotal.WithLabelValues("client", "failure").Inc()
		}
		s.fail(newError(KindHandshakeFailure, "handshake", err))
		return
	}

	s.mu.Lock()
	defer s.unlock()
	if s.state != StatePreparing {
		_ = conn.Close()
		return
	}
	observability.DTLSHandshakesTotal.WithLabelValues("client", "success").Inc()
	s.conn = conn
	s.transition(StateReady, nil)

	go s.writeLoop(conn)
	go s.readLoop(conn)
}

// fail 은 복구할 수 없는 오류로 세션을 Failed 로 보냅니다. 이미 종료된 세션에서는 무시됩니다.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if !s.started || s.state.Terminal() {
		s.unlock()
		return
	}
	s.log.Warn("session failed", logging.Fields{
		"state": s.state.String(),
		"error": cause.Error(),
	})
	s.drainPending(cause)
	s.transition(StateFailed, cause)
	release := s.teardown()
	s.unlock()

	s.finish(release)
}

// transition 은 s.mu 를 잡은 상태에서 호출해야 합니다.
// 알림은 잠금 안에서 큐에 쌓고 unlock 에서 실행을 시작하므로 전이 순서와 알림 순서가 항상 같습니다.
func (s *Session) transition(next ConnectionState, cause error) bool {
	prev := s.state
	if !CanTransition(prev, next) {
		s.log.Warn("ignored invalid state transition", logging.Fields{
			"from": prev.String(),
			"to":   next.String(),
		})
		return false
	}
	s.state = next
	observability.SessionStateTransitionsTotal.WithLabelValues(next.String()).Inc()

	fields := logging.Fields{"from": prev.String(), "to": next.String()}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	s.log.Info("session state changed", fields)

	if h := s.onState; h != nil {
		s.queue.push(func() { h(next, cause) })
	}
	return true
}

// unlock 은 s.mu 를 놓은 뒤 잠금 안에서 쌓인 콜백 실행을 시작합니다.
// 콜백은 세션 잠금 밖에서 돌기 때문에 Executor 가 작업을 즉시 실행해도 재진입 호출이 막히지 않습니다.
func (s *Session) unlock() {
	s.mu.Unlock()
	s.queue.kick()
}

// teardown 은 s.mu 를 잡은 상태에서 호출하며, 잠금 밖에서 실행할 해제 함수를 돌려줍니다.
func (s *Session) teardown() func() {
	if s.torndown {
		return func() {}
	}
	s.torndown = true
	if s.cancel != nil {
		s.cancel()
	}
	close(s.stop)

	conn, link := s.conn, s.link
	s.conn, s.link = nil, nil
	return func() {
		if conn != nil {
			_ = conn.Close()
		}
		if link != nil {
			_ = link.Close()
		}
	}
}

// finish 는 자원을 해제한 뒤, 이미 큐에 들어간 콜백이 모두 실행되고 나서 done 을 닫습니다.
func (s *Session) finish(release func()) {
	release()
	s.queue.enqueue(func() {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	})
}
