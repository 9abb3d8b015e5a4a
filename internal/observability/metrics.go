package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 전역 레지스트리에 등록할 hop-dtls 메트릭들을 정의합니다.
// Prometheus 기본 네임스페이스를 사용하며, 메트릭 이름에 hopdtls_ 접두어를 붙입니다.

var (
	// DTLS 핸드셰이크 총 횟수 (성공/실패 라벨 포함).
	DTLSHandshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopdtls_handshakes_total",
			Help: "Total number of DTLS handshakes, labeled by side and result.",
		},
		[]string{"side", "result"}, // client|server, success|failure
	)

	// 세션 상태 전이 횟수 (전이 후 상태 라벨).
	SessionStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopdtls_session_state_transitions_total",
			Help: "Total number of session state transitions, labeled by the new state.",
		},
		[]string{"state"},
	)

	// 전송 성공한 메시지 수와 바이트 수.
	MessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopdtls_messages_sent_total",
		Help: "Total number of application messages written to DTLS sessions.",
	})
	BytesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopdtls_bytes_sent_total",
		Help: "Total application payload bytes written to DTLS sessions.",
	})

	// 수신한 메시지 수와 바이트 수.
	MessagesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopdtls_messages_received_total",
		Help: "Total number of application messages delivered from DTLS sessions.",
	})
	BytesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopdtls_bytes_received_total",
		Help: "Total application payload bytes delivered from DTLS sessions.",
	})

	// 메시지 채널 에러 카운터 (방향/에러 종류 라벨 포함).
	ChannelErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopdtls_channel_errors_total",
			Help: "Total number of send/receive errors, labeled by direction and error kind.",
		},
		[]string{"direction", "kind"}, // send|receive, e.g. transport_closed, cancelled
	)
)

// MustRegister 는 위에서 정의한 메트릭들을 전역 Prometheus 레지스트리에 등록합니다.
// 프로세스 시작 시 한 번만 호출해야 합니다.
func MustRegister() {
	prometheus.MustRegister(
		DTLSHandshakesTotal,
		SessionStateTransitionsTotal,
		MessagesSentTotal,
		BytesSentTotal,
		MessagesReceivedTotal,
		BytesReceivedTotal,
		ChannelErrorsTotal,
	)
}
