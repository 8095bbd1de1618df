package ice

import "github.com/gortc/stun"

// looksLikeMedia reports whether the first byte of a datagram matches
// the RTP/RTCP version-2 pattern (version bits 0b10, no further
// demultiplexing attempted since DTLS/SRTP are out of scope per
// SPEC_FULL.md §1). Ported from the classifier rule in SPEC_FULL.md §4.4.
func looksLikeMedia(b []byte) bool {
	return len(b) >= 1 && b[0]&0xC0 == 0x80
}

// ReceivePath classifies inbound datagrams as STUN control traffic or
// application media and routes them accordingly, per SPEC_FULL.md §4.4.
type ReceivePath struct {
	agent *Agent
}

func newReceivePath(a *Agent) *ReceivePath {
	return &ReceivePath{agent: a}
}

// Dispatch is the callback wired to Driver.Watch for every socket the
// agent owns.
func (r *ReceivePath) Dispatch(streamID StreamID, componentID int, sock Socket, src Addr, b []byte) {
	if looksLikeMedia(b) {
		r.agent.deliverApplication(streamID, componentID, src, b)
		return
	}
	if !stun.IsMessage(b) {
		r.agent.deliverApplication(streamID, componentID, src, b)
		return
	}
	m := stun.New()
	if err := stun.Decode(b, m); err != nil {
		return
	}
	if r.agent.discovery.handleResponse(src, m) {
		return
	}
	stream, ok := r.agent.stream(streamID)
	if !ok {
		return
	}
	comp, ok := stream.Component(componentID)
	if !ok {
		return
	}
	r.agent.conncheck.handleInbound(stream, comp, src, sock, m)
}
