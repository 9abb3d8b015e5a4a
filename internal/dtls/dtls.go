// Package dtls 는 PSK 로 인증되는 DTLS 세션 계층을 제공합니다.
//
// 구성 요소:
//   - Credentials: PSK identity/secret/cipher suite (Connect 이후 불변)
//   - DatagramTransport / Link: 비신뢰 datagram 경로 (기본 구현 UDPTransport)
//   - HandshakeEngine / SecureConn: DTLS 핸드셰이크와 레코드 계층 (기본 구현 PionEngine)
//   - Session: 상태 머신(Idle → Waiting → Preparing → Ready, Failed/Cancelled)과
//     Ready 상태에서의 Send/Receive 메시지 채널
//
// Session 의 모든 콜백은 세션 전용 직렬 큐에서 호출되므로 한 세션 안에서는
// 동시에 실행되지 않고 항상 발생 순서대로 전달됩니다.
package dtls
