package dtls

// ConnectionState 는 세션 생명주기의 상태입니다.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateWaiting
	StatePreparing
	StateReady
	StateFailed
	StateCancelled
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePreparing:
		return "preparing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal 은 Failed, Cancelled 처럼 다시 벗어날 수 없는 상태인지 반환합니다.
// Ready 는 재연결 관점에서만 종단이며 Failed/Cancelled 로는 전이할 수 있습니다.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateCancelled
}

// CanTransition 은 from → to 전이가 허용되는지 반환합니다.
//
//	Idle      → Waiting
//	Waiting   → Preparing | Failed | Cancelled
//	Preparing → Ready | Failed | Cancelled
//	Ready     → Failed | Cancelled
func CanTransition(from, to ConnectionState) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateWaiting:
		return from == StateIdle
	case StatePreparing:
		return from == StateWaiting
	case StateReady:
		return from == StatePreparing
	case StateFailed:
		return from == StateWaiting || from == StatePreparing || from == StateReady
	case StateCancelled:
		return from != StateIdle
	default:
		return false
	}
}

// StateHandler 는 상태 전이마다 정확히 한 번, 세션의 직렬 큐에서 호출됩니다.
// err 는 Failed 인 경우 실패 원인이며 그 외에는 nil 입니다.
type StateHandler func(state ConnectionState, err error)
