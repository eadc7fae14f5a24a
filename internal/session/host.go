package session

import (
	"encoding/binary"
	"math"
	"os"
	"sync"

	"github.com/radsat-ctf/radsat/internal/errs"
	"github.com/radsat-ctf/radsat/internal/orbit"
)

// execHost implements interp.Host against one firmware instance's
// simulated environment: a telemetry log, a one-entry file whitelist
// (the flag, per spec.md §4.1/§8 S5), a clock, and the live orbital
// state snapshot. Grounded on the teacher's UART pattern in
// emul/cpu.go, where console I/O is a mutex-guarded buffer the CPU's
// special-register syscalls read and write.
type execHost struct {
	mu  sync.Mutex
	log []byte

	flagPath string

	clock func() uint32
	prop  *orbit.Propagator
}

func newExecHost(flagPath string, clock func() uint32, prop *orbit.Propagator) *execHost {
	return &execHost{flagPath: flagPath, clock: clock, prop: prop}
}

// AppendLog appends data to the session's telemetry event log, the sole
// side channel a module may use to communicate.
func (h *execHost) AppendLog(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = append(h.log, data...)
}

// Log returns a copy of the accumulated telemetry log.
func (h *execHost) Log() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.log...)
}

// ReadPath serves the closed one-entry whitelist: index 0 is the flag
// file, opened read-only on demand per spec.md §5 "Shared resources".
// Any other index is refused.
func (h *execHost) ReadPath(idx int) ([]byte, error) {
	if idx != 0 {
		return nil, &errs.InterpreterFault{Reason: "path index outside whitelist"}
	}
	data, err := os.ReadFile(h.flagPath)
	if err != nil {
		return nil, &errs.InterpreterFault{Reason: "flag path unreadable: " + err.Error()}
	}
	return data, nil
}

// Time returns the simulated epoch in seconds since Unix epoch.
func (h *execHost) Time() uint32 {
	return h.clock()
}

// SpacecraftState returns a fixed 48-byte snapshot: position (3x
// float64) and velocity (3x float64), little-endian. These are the same
// six values a telemetry frame carries, though the telemetry encoding is
// big-endian and leads with the epoch.
func (h *execHost) SpacecraftState() []byte {
	st := h.prop.State()
	buf := make([]byte, 48)
	putF64 := func(off int, v float64) {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
	}
	putF64(0, st.Position.X)
	putF64(8, st.Position.Y)
	putF64(16, st.Position.Z)
	putF64(24, st.Velocity.X)
	putF64(32, st.Velocity.Y)
	putF64(40, st.Velocity.Z)
	return buf
}
