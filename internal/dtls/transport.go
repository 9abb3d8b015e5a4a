package dtls

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/net/idna"

	"github.com/dalbodeule/hop-dtls/internal/logging"
)

// Endpoint 는 검증된 host:port 쌍입니다.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(true),
	idna.VerifyDNSLength(true),
)

// ParseEndpoint 는 host/port 문자열의 문법을 검증합니다. (ko)
// ParseEndpoint validates host and port syntax without touching the network. (en)
//
// host 는 IPv4/IPv6 리터럴(대괄호 허용) 또는 IDNA 규칙을 만족하는 도메인이어야 하고,
// port 는 1..65535 범위의 10진수여야 합니다.
func ParseEndpoint(host, port string) (Endpoint, error) {
	const op = "connect"

	h := strings.TrimSpace(host)
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	if h == "" {
		return Endpoint{}, newError(KindInvalidEndpoint, op, fmt.Errorf("host is empty"))
	}

	if addr, err := netip.ParseAddr(h); err == nil {
		h = addr.String()
	} else {
		ascii, err := hostProfile.ToASCII(strings.TrimSuffix(h, "."))
		if err != nil {
			return Endpoint{}, newError(KindInvalidEndpoint, op, fmt.Errorf("invalid host %q: %w", host, err))
		}
		h = ascii
	}

	p, err := strconv.ParseUint(strings.TrimSpace(port), 10, 16)
	if err != nil || p == 0 {
		return Endpoint{}, newError(KindInvalidEndpoint, op, fmt.Errorf("invalid port %q", port))
	}

	return Endpoint{Host: h, Port: uint16(p)}, nil
}

// Link 는 세션이 독점하는 원시 datagram 핸들입니다.
// WriteTo/ReadFrom 이 datagram 송수신이며, Close 가 핸들을 해제합니다.
type Link interface {
	net.PacketConn
	RemoteAddr() net.Addr
}

// DatagramTransport 는 endpoint 로의 비신뢰 datagram 경로를 엽니다.
// Open 은 경로가 생길 때까지 자체 정책에 따라 기다릴 수 있으며, ctx 취소 시 즉시 반환해야 합니다.
type DatagramTransport interface {
	Open(ctx context.Context, ep Endpoint) (Link, error)
}

const (
	DefaultPathTimeout     = 15 * time.Second
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// UDPTransport 는 connected UDP 소켓을 사용하는 DatagramTransport 입니다.
//
// 이름 해석 일시 실패나 라우트 없음(ENETUNREACH 등)은 "경로 대기"로 보고
// PathTimeout 이 지날 때까지 지수 백오프로 재시도합니다.
type UDPTransport struct {
	PathTimeout time.Duration
	Resolver    *net.Resolver
	Logger      logging.Logger

	// initialInterval 은 테스트에서 백오프 간격을 줄이기 위해 사용합니다.
	initialInterval time.Duration
}

// Open 은 endpoint 로 connected UDP 소켓을 열어 Link 로 반환합니다.
func (t *UDPTransport) Open(ctx context.Context, ep Endpoint) (Link, error) {
	log := t.logger().With(logging.Fields{"endpoint": ep.String()})
	dialer := &net.Dialer{Resolver: t.Resolver}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	if t.initialInterval > 0 {
		b.InitialInterval = t.initialInterval
	}
	b.MaxInterval = defaultMaxInterval

	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		c, err := dialer.DialContext(ctx, "udp", ep.String())
		if err != nil {
			if pathMayAppear(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return c, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(t.pathTimeout()),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug("waiting for usable network path", logging.Fields{
				"error":       err.Error(),
				"retry_in_ms": next.Milliseconds(),
			})
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(KindTransportClosed, "open", err)
	}

	udp, ok := conn.(*net.UDPConn)
	if !ok {
		_ = conn.Close()
		return nil, newError(KindTransportClosed, "open", fmt.Errorf("unexpected conn type %T", conn))
	}
	return &udpLink{UDPConn: udp}, nil
}

func (t *UDPTransport) pathTimeout() time.Duration {
	if t.PathTimeout > 0 {
		return t.PathTimeout
	}
	return DefaultPathTimeout
}

func (t *UDPTransport) logger() logging.Logger {
	if t.Logger == nil {
		return logging.NewNopLogger()
	}
	return t.Logger
}

// pathMayAppear 는 시간이 지나면 해소될 수 있는 경로 오류인지 판단합니다.
func pathMayAppear(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETDOWN)
}

// udpLink 는 connected UDP 소켓을 net.PacketConn 형태로 노출합니다.
// 원격 주소가 고정되어 있으므로 WriteTo 의 주소는 무시합니다.
type udpLink struct {
	*net.UDPConn
}

func (l *udpLink) ReadFrom(p []byte) (int, net.Addr, error) {
	n, err := l.UDPConn.Read(p)
	return n, l.UDPConn.RemoteAddr(), err
}

func (l *udpLink) WriteTo(p []byte, _ net.Addr) (int, error) {
	return l.UDPConn.Write(p)
}
