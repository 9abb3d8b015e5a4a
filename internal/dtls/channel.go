package dtls

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	piondtls "github.com/pion/dtls/v3"

	"github.com/dalbodeule/hop-dtls/internal/observability"
)

// SendHandler 는 Send 한 건의 결과를 정확히 한 번 받습니다. 성공이면 err 는 nil 입니다.
type SendHandler func(err error)

// ReceiveHandler 는 Receive 등록 한 건에 대해 정확히 한 번 호출됩니다.
// payload 와 err 중 하나만 채워집니다.
type ReceiveHandler func(payload []byte, err error)

// outbound 는 Send 호출마다 만들어지며, 완료 콜백이 한 번 호출된 뒤 버려집니다.
type outbound struct {
	payload  []byte
	done     SendHandler
	resolved bool
}

// Send 는 payload 를 전송 큐에 넣습니다.
//
// Ready 가 아니면 NotReady, MaxPayloadSize 를 넘으면 PayloadTooLarge 를 즉시 반환하고
// 이 경우 onComplete 는 호출되지 않습니다. 큐에 들어간 전송은 세션당 하나의 writer 가
// 호출 순서(FIFO)대로 기록하고, 완료 콜백도 같은 순서로 호출됩니다.
// 상대방에 도착하는 순서는 보장하지 않습니다.
func (s *Session) Send(payload []byte, onComplete SendHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return newError(KindNotReady, "send", fmt.Errorf("session is %s", s.state))
	}
	if len(payload) > s.maxPayload {
		return newError(KindPayloadTooLarge, "send", fmt.Errorf("payload is %d bytes, limit %d", len(payload), s.maxPayload))
	}

	s.sendq = append(s.sendq, &outbound{
		payload: append([]byte(nil), payload...),
		done:    onComplete,
	})
	wake(s.sendWake)
	return nil
}

// Receive 는 다음으로 복호화된 datagram 하나를 받을 일회성 소비자를 등록합니다.
//
// 등록은 한 번 호출되면 소모되므로 계속 받으려면 다시 Receive 를 호출해야 합니다.
// 등록이 없는 동안에는 보안 연결에서 읽지 않으므로 내부 버퍼가 쌓이지 않습니다.
// 여러 번 등록하면 FIFO 순서로 한 건씩 전달됩니다.
func (s *Session) Receive(onMessage ReceiveHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return newError(KindNotReady, "receive", fmt.Errorf("session is %s", s.state))
	}
	s.recvq = append(s.recvq, onMessage)
	wake(s.recvWake)
	return nil
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Session) writeLoop(conn SecureConn) {
	for {
		m := s.nextOutbound()
		if m == nil {
			select {
			case <-s.sendWake:
				continue
			case <-s.stop:
				return
			}
		}

		_, err := conn.Write(m.payload)
		if !s.completeSend(m, err) {
			return
		}
	}
}

func (s *Session) nextOutbound() *outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady || len(s.sendq) == 0 {
		return nil
	}
	m := s.sendq[0]
	s.sendq[0] = nil
	s.sendq = s.sendq[1:]
	s.inflight = m
	return m
}

// completeSend 는 writer 가 계속 돌아야 하면 true 를 반환합니다.
func (s *Session) completeSend(m *outbound, err error) bool {
	s.mu.Lock()
	if s.inflight == m {
		s.inflight = nil
	}
	if err == nil {
		s.resolveSend(m, nil)
		s.unlock()
		return true
	}

	sendErr := classify("send", err, KindEncryptionFailure)
	s.resolveSend(m, sendErr)
	s.unlock()

	if sendErr.Kind == KindTransportClosed {
		s.fail(sendErr)
		return false
	}
	return true
}

func (s *Session) readLoop(conn SecureConn) {
	buf := make([]byte, s.readBufSize)
	for {
		if !s.receiveArmed() {
			select {
			case <-s.recvWake:
				continue
			case <-s.stop:
				return
			}
		}

		n, err := conn.Read(buf)
		var payload []byte
		if err == nil {
			payload = append([]byte(nil), buf[:n]...)
		}
		if !s.deliver(payload, err) {
			return
		}
	}
}

func (s *Session) receiveArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady && len(s.recvq) > 0
}

// deliver 는 reader 가 계속 돌아야 하면 true 를 반환합니다.
// 복호화 실패는 해당 등록에만 전달되고 세션은 유지되며, transport 종료는 세션을 Failed 로 보냅니다.
func (s *Session) deliver(payload []byte, err error) bool {
	s.mu.Lock()
	if s.state != StateReady {
		s.unlock()
		return false
	}

	if err != nil {
		recvErr := classify("receive", err, KindDecryptionFailure)
		if recvErr.Kind == KindTransportClosed {
			s.unlock()
			s.fail(recvErr)
			return false
		}
		s.resolveRecv(s.popReceiver(), nil, recvErr)
		s.unlock()
		return true
	}

	s.resolveRecv(s.popReceiver(), payload, nil)
	s.unlock()
	return true
}

func (s *Session) popReceiver() ReceiveHandler {
	if len(s.recvq) == 0 {
		return nil
	}
	h := s.recvq[0]
	s.recvq[0] = nil
	s.recvq = s.recvq[1:]
	return h
}

// drainPending 은 s.mu 를 잡은 상태에서 호출합니다. 처리 중인 전송부터 FIFO 순서로 err 를 전달합니다.
func (s *Session) drainPending(err error) {
	if s.inflight != nil {
		s.resolveSend(s.inflight, err)
		s.inflight = nil
	}
	for _, m := range s.sendq {
		s.resolveSend(m, err)
	}
	s.sendq = nil

	for _, h := range s.recvq {
		s.resolveRecv(h, nil, err)
	}
	s.recvq = nil
}

func (s *Session) resolveSend(m *outbound, err error) {
	if m.resolved {
		return
	}
	m.resolved = true

	if err == nil {
		observability.MessagesSentTotal.Inc()
		observability.BytesSentTotal.Add(float64(len(m.payload)))
	} else {
		observability.ChannelErrorsTotal.WithLabelValues("send", KindOf(err).String()).Inc()
	}
	if cb := m.done; cb != nil {
		s.queue.push(func() { cb(err) })
	}
}

func (s *Session) resolveRecv(h ReceiveHandler, payload []byte, err error) {
	if err == nil {
		observability.MessagesReceivedTotal.Inc()
		observability.BytesReceivedTotal.Add(float64(len(payload)))
	} else {
		observability.ChannelErrorsTotal.WithLabelValues("receive", KindOf(err).String()).Inc()
	}
	if h != nil {
		s.queue.push(func() { h(payload, err) })
	}
}

// classify 는 보안 연결의 오류를 세션 에러로 바꿉니다.
// 이미 세션 에러면 종류를 유지하고, 연결이 닫혔거나 치명적인 DTLS 오류면 TransportClosed,
// 그 외는 fallback 입니다.
func classify(op string, err error, fallback ErrorKind) *Error {
	if kind := KindOf(err); kind != 0 {
		return newError(kind, op, err)
	}
	if transportGone(err) {
		return newError(KindTransportClosed, op, err)
	}
	return newError(fallback, op, err)
}

func transportGone(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, piondtls.ErrConnClosed) {
		return true
	}
	var fatal *piondtls.FatalError
	return errors.As(err, &fatal)
}
