package wireproto

import "sync"

// TelemetryPusher coalesces server-pushed telemetry frames so a slow
// client never falls behind: if the client cannot drain pushes fast
// enough, intermediate states are dropped and only the most recent is
// kept. spec.md §4.6: "Server telemetry pushes are coalesced if the
// client cannot drain them; the most recent state is always retained."
type TelemetryPusher struct {
	mu      sync.Mutex
	pending *TelemetryPayload
	notify  chan struct{}
}

// NewTelemetryPusher constructs a pusher; notify (buffered, size 1) is
// signalled whenever a new pending frame is available for draining.
func NewTelemetryPusher() *TelemetryPusher {
	return &TelemetryPusher{notify: make(chan struct{}, 1)}
}

// Publish replaces any not-yet-drained pending frame with state.
func (p *TelemetryPusher) Publish(state TelemetryPayload) {
	p.mu.Lock()
	p.pending = &state
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Notify returns the channel a writer goroutine should select on to
// learn a new frame is ready.
func (p *TelemetryPusher) Notify() <-chan struct{} {
	return p.notify
}

// Drain returns the most recent published frame and clears it, or false
// if nothing is pending (already drained).
func (p *TelemetryPusher) Drain() (TelemetryPayload, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return TelemetryPayload{}, false
	}
	state := *p.pending
	p.pending = nil
	return state, true
}
