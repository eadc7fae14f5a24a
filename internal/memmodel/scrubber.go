package memmodel

import (
	"context"
	"hash/crc32"
	"time"
)

// ScrubStats reports the outcome of one scrubber pass, for telemetry and
// for the checkpoint-restart decision.
type ScrubStats struct {
	PagesScanned int
	PagesRepaired int
	PagesFaulted int
}

// Scrubber periodically walks every protected page, restores the
// majority value into any non-matching copy, and recomputes CRCs. If a
// configurable number of pages fault within a sliding window of passes,
// it sends on the Restart channel so the owning session can
// trigger a checkpoint restore (spec.md §4.3, §4.7).
type Scrubber struct {
	mem    *Memory
	period time.Duration

	// FaultThreshold faulted pages within Window consecutive passes
	// triggers a restart signal. Defaults chosen per DESIGN.md's Open
	// Question decision: a single fault in a 50-pass window.
	FaultThreshold int
	Window         int

	faultHistory []int // faulted-page count per recent pass, length <= Window

	Restart chan struct{}
	onPass  func(ScrubStats)
}

// NewScrubber constructs a scrubber for mem with the given pass period.
// onPass, if non-nil, is invoked after every pass (used by telemetry).
func NewScrubber(mem *Memory, period time.Duration, onPass func(ScrubStats)) *Scrubber {
	return &Scrubber{
		mem:            mem,
		period:         period,
		FaultThreshold: 1,
		Window:         50,
		Restart:        make(chan struct{}, 1),
		onPass:         onPass,
	}
}

// Pass performs a single scrub of every protected page and returns stats.
// Exported so tests and the session scheduler can drive a pass without
// waiting on the ticker (spec.md's cooperative-scheduling model: the
// scrubber is one of the firmware's logical tasks, stepped explicitly by
// whatever owns the scheduling loop).
func (s *Scrubber) Pass() ScrubStats {
	var st ScrubStats
	for _, p := range s.mem.pages {
		st.PagesScanned++

		p.mu.Lock()
		val, ok := p.majority()
		if !ok {
			p.faulted = true
			st.PagesFaulted++
			p.mu.Unlock()
			continue
		}
		repaired := false
		for c := 0; c < CopiesPerPage; c++ {
			if crc32ChecksumEqual(p.copies[c], p.crcs[c]) && bytesEqual(p.copies[c], val) {
				continue
			}
			copy(p.copies[c], val)
			p.recomputeCRC(c)
			repaired = true
		}
		if repaired {
			st.PagesRepaired++
		}
		p.faulted = false
		p.mu.Unlock()
	}

	s.recordFaults(st.PagesFaulted)
	if s.onPass != nil {
		s.onPass(st)
	}
	return st
}

func (s *Scrubber) recordFaults(faulted int) {
	s.faultHistory = append(s.faultHistory, faulted)
	if len(s.faultHistory) > s.Window {
		s.faultHistory = s.faultHistory[len(s.faultHistory)-s.Window:]
	}
	total := 0
	for _, n := range s.faultHistory {
		total += n
	}
	if total >= s.FaultThreshold {
		select {
		case s.Restart <- struct{}{}:
		default:
		}
	}
}

// Run drives the scrubber on its fixed cadence until ctx is cancelled.
// This is the free-running form; internal/session does not use it and
// instead calls Pass directly on each tick.
func (s *Scrubber) Run(ctx context.Context) {
	t := time.NewTicker(s.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Pass()
		}
	}
}

func crc32ChecksumEqual(data []byte, want uint32) bool {
	return crc32.ChecksumIEEE(data) == want
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
