package interp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	log   []byte
	files map[int][]byte
	now   uint32
	state []byte
}

func (f *fakeHost) AppendLog(data []byte) { f.log = append(f.log, data...) }

func (f *fakeHost) ReadPath(idx int) ([]byte, error) {
	data, ok := f.files[idx]
	if !ok {
		return nil, errNotWhitelisted
	}
	return data, nil
}

func (f *fakeHost) Time() uint32           { return f.now }
func (f *fakeHost) SpacecraftState() []byte { return f.state }

var errNotWhitelisted = &pathErr{}

type pathErr struct{}

func (*pathErr) Error() string { return "not whitelisted" }

func assembleProgram(words ...uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}

func TestHaltStopsCleanly(t *testing.T) {
	prog := assembleProgram(EncodeRI(OpHALT, 0, 0))
	vm := New(prog, &fakeHost{})
	require.NoError(t, vm.Run(10))
}

func TestArithmeticAndBranch(t *testing.T) {
	// R1 = 2, R2 = 2, R3 = R1 + R2 (=4), if R3==R1 skip next (no), R4 = 7, HALT
	prog := assembleProgram(
		EncodeRRI(OpADDI, 1, 0, 2), // R1 = R0(0) + 2
		EncodeRRI(OpADDI, 2, 0, 2), // R2 = 2
		EncodeRRR(OpADD, 3, 1, 2),  // R3 = R1 + R2 = 4
		EncodeRRI(OpBEQ, 3, 1, 1),  // 4 != 2: not taken
		EncodeRRI(OpADDI, 4, 0, 7), // R4 = 7, runs because the branch fell through
		EncodeRI(OpHALT, 0, 0),
	)
	vm := New(prog, &fakeHost{})
	require.NoError(t, vm.Run(10))
	require.Equal(t, uint32(4), vm.regs[3])
	require.Equal(t, uint32(7), vm.regs[4])
}

func TestLoadStoreScratch(t *testing.T) {
	prog := assembleProgram(
		EncodeRRI(OpADDI, 1, 0, 42),   // R1 = 42
		EncodeRRI(OpSTORE, 1, 0, 100), // scratch[100:104] = R1
		EncodeRRI(OpLOAD, 2, 0, 100),  // R2 = scratch[100:104]
		EncodeRI(OpHALT, 0, 0),
	)
	vm := New(prog, &fakeHost{})
	require.NoError(t, vm.Run(10))
	require.Equal(t, uint32(42), vm.regs[2])
}

func TestOutOfBoundsScratchFaults(t *testing.T) {
	prog := assembleProgram(
		EncodeRRI(OpLOAD, 1, 0, ScratchSize+10),
		EncodeRI(OpHALT, 0, 0),
	)
	vm := New(prog, &fakeHost{})
	err := vm.Run(10)
	require.Error(t, err)
}

func TestUnknownOpcodeFaults(t *testing.T) {
	prog := assembleProgram(uint32(63) << 26) // opcode 63 is unassigned
	vm := New(prog, &fakeHost{})
	require.Error(t, vm.Run(10))
}

func TestInstructionBudgetExhaustion(t *testing.T) {
	// infinite loop: JMP 0
	prog := assembleProgram(EncodeRI(OpJMP, 0, 0))
	vm := New(prog, &fakeHost{})
	err := vm.Run(5)
	require.Error(t, err)
}

func TestSyscallLogAppendsToHost(t *testing.T) {
	host := &fakeHost{}
	prog := assembleProgram(
		EncodeRRI(OpADDI, 3, 0, 'h'),
		EncodeRRI(OpSTORE, 3, 0, 0),
		EncodeRRI(OpADDI, 0, 0, SysLog), // R0 = syscall id
		EncodeRRI(OpADDI, 1, 0, 0),      // R1 = buf offset
		EncodeRRI(OpADDI, 2, 0, 1),      // R2 = len
		EncodeRI(OpSYSCALL, 0, 0),
		EncodeRI(OpHALT, 0, 0),
	)
	vm := New(prog, host)
	require.NoError(t, vm.Run(20))
	require.Equal(t, byte('h'), host.log[0])
}

func TestSyscallReadPathFlagExploit(t *testing.T) {
	const flagIdx = 0
	host := &fakeHost{files: map[int][]byte{flagIdx: []byte("flag{seu}")}}

	prog := assembleProgram(
		EncodeRRI(OpADDI, 0, 0, SysReadPath),
		EncodeRRI(OpADDI, 1, 0, flagIdx), // path index
		EncodeRRI(OpADDI, 2, 0, 0),       // dst offset
		EncodeRRI(OpADDI, 3, 0, 64),      // max len
		EncodeRI(OpSYSCALL, 0, 0),

		EncodeRRI(OpADDI, 0, 0, SysLog),
		EncodeRRI(OpADDI, 1, 0, 0), // buf offset
		EncodeRRI(OpADDI, 2, 0, 9), // len = len("flag{seu}")
		EncodeRI(OpSYSCALL, 0, 0),
		EncodeRI(OpHALT, 0, 0),
	)
	vm := New(prog, host)
	require.NoError(t, vm.Run(30))
	require.Equal(t, "flag{seu}", string(host.log))
}

func TestSyscallReadPathOutsideWhitelistFaults(t *testing.T) {
	host := &fakeHost{files: map[int][]byte{0: []byte("ok")}}
	prog := assembleProgram(
		EncodeRRI(OpADDI, 0, 0, SysReadPath),
		EncodeRRI(OpADDI, 1, 0, 99), // not in whitelist
		EncodeRRI(OpADDI, 2, 0, 0),
		EncodeRRI(OpADDI, 3, 0, 8),
		EncodeRI(OpSYSCALL, 0, 0),
		EncodeRI(OpHALT, 0, 0),
	)
	vm := New(prog, host)
	require.Error(t, vm.Run(10))
}

func TestSyscallUnknownFaults(t *testing.T) {
	prog := assembleProgram(
		EncodeRRI(OpADDI, 0, 0, 99),
		EncodeRI(OpSYSCALL, 0, 0),
		EncodeRI(OpHALT, 0, 0),
	)
	vm := New(prog, &fakeHost{})
	require.Error(t, vm.Run(10))
}
