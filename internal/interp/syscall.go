package interp

// Syscall numbers, per spec.md §4.1's closed syscall table.
const (
	SysLog      = 1
	SysReadPath = 2
	SysTime     = 3
	SysSCState  = 4
)

// MaxLogAppend bounds a single log syscall's effect; oversize requests
// are silently truncated per spec.md §4.1.
const MaxLogAppend = 1024

// Host supplies the environment a running module observes: the
// telemetry log it appends to, the whitelisted files it may read, the
// simulated clock, and the spacecraft state snapshot. Implemented by
// internal/session for production use and by a fake in tests.
type Host interface {
	// AppendLog appends data to the session's telemetry event log.
	AppendLog(data []byte)

	// ReadPath returns the contents of the whitelisted file selected by
	// idx, or an error if idx is outside the whitelist. One entry is the
	// flag file (spec.md §4.1, §8 S5).
	ReadPath(idx int) ([]byte, error)

	// Time returns the current simulated epoch, in seconds.
	Time() uint32

	// SpacecraftState returns a fixed-size serialized snapshot of the
	// orbital state vector.
	SpacecraftState() []byte
}
