package dtls

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	piondtls "github.com/pion/dtls/v3"

	"github.com/dalbodeule/hop-dtls/internal/logging"
	"github.com/dalbodeule/hop-dtls/internal/observability"
)

// ServerConfig 는 PSK DTLS 서버 리스너 구성을 정의합니다. (ko)
// ServerConfig defines the PSK DTLS server listener. (en)
type ServerConfig struct {
	Addr         string
	KeyStore     KeyStore
	CipherSuites []CipherSuite // 비어 있으면 지원하는 모든 PSK suite
	IdentityHint string
	MTU          int

	HandshakeTimeout time.Duration
	Logger           logging.Logger
}

// ConnHandler 는 핸드셰이크가 끝난 연결 하나를 처리합니다. 반환되면 연결을 닫습니다.
type ConnHandler func(ctx context.Context, conn net.Conn) error

// Server 는 pion/dtls/v3 리스너 위에서 연결마다 goroutine 을 띄워 ConnHandler 를 실행합니다.
type Server struct {
	listener         net.Listener
	handshakeTimeout time.Duration
	log              logging.Logger

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewPionServer 는 cfg.Addr 에서 PSK DTLS 리스너를 엽니다.
func NewPionServer(cfg ServerConfig) (*Server, error) {
	if cfg.KeyStore == nil {
		return nil, fmt.Errorf("dtls server requires a key store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	suites := cfg.CipherSuites
	if len(suites) == 0 {
		suites = []CipherSuite{AES128_CCM, AES128_CCM8, AES256_CCM8, AES128_GCM_SHA256, AES128_SHA256, ECDHE_AES128_SHA256}
	}
	ids := make([]piondtls.CipherSuiteID, 0, len(suites))
	for _, suite := range suites {
		if !suite.Supported() {
			return nil, fmt.Errorf("unsupported cipher suite %s", suite)
		}
		ids = append(ids, suite.ID())
	}

	hint := cfg.IdentityHint
	if hint == "" {
		hint = "hop-dtls"
	}
	mtu := cfg.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve dtls listen addr: %w", err)
	}

	keys := cfg.KeyStore
	listener, err := piondtls.Listen("udp", udpAddr, &piondtls.Config{
		PSK: func(identity []byte) ([]byte, error) {
			return keys.LookupPSK(identity)
		},
		PSKIdentityHint:      []byte(hint),
		CipherSuites:         ids,
		ExtendedMasterSecret: piondtls.RequestExtendedMasterSecret,
		MTU:                  mtu,
		LoggerFactory:        logging.PionLoggerFactory(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("listen dtls: %w", err)
	}

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	return &Server{
		listener:         listener,
		handshakeTimeout: timeout,
		log:              logger.With(logging.Fields{"side": "server"}),
	}, nil
}

// Addr 는 실제로 바인딩된 주소입니다. ":0" 으로 열었을 때 포트를 알아내는 데 사용합니다.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve 는 ctx 가 끝나거나 Close 가 호출될 때까지 연결을 받아 handler 를 실행합니다.
// 반환하기 전에 실행 중인 handler 가 모두 끝나기를 기다립니다.
func (s *Server) Serve(ctx context.Context, handler ConnHandler) error {
	defer s.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopListener := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stopListener()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("dtls accept failed", logging.Fields{
				"error": err.Error(),
			})
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer c.Close()
			s.handle(ctx, c, handler)
		}(conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn, handler ConnHandler) {
	log := s.log.With(logging.Fields{"remote_addr": conn.RemoteAddr().String()})

	// 리스너를 닫아도 이미 받은 연결은 닫히지 않으므로 ctx 종료 시 직접 닫습니다.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if dc, ok := conn.(*piondtls.Conn); ok {
		hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
		err := dc.HandshakeContext(hctx)
		cancel()
		if err != nil {
			observability.DTLSHandshakesTotal.WithLabelValues("server", "failure").Inc()
			log.Warn("dtls handshake failed", logging.Fields{
				"error": err.Error(),
			})
			return
		}
		observability.DTLSHandshakesTotal.WithLabelValues("server", "success").Inc()
	}
	log.Info("dtls handshake completed", nil)

	if err := handler(ctx, conn); err != nil && !transportGone(err) {
		log.Warn("dtls connection handler exited with error", logging.Fields{
			"error": err.Error(),
		})
		return
	}
	log.Info("dtls connection closed", nil)
}

// Close 는 리스너를 닫습니다. 여러 번 호출해도 안전합니다.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.listener.Close()
}

// EchoHandler 는 받은 레코드를 그대로 돌려보냅니다. 수동 테스트와 루프백 테스트용입니다.
func EchoHandler(bufSize int) ConnHandler {
	if bufSize <= 0 {
		bufSize = defaultReadBufferSize
	}
	return func(ctx context.Context, conn net.Conn) error {
		buf := make([]byte, bufSize)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return err
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return err
			}
		}
	}
}
