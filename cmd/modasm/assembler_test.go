package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/radsat-ctf/radsat/internal/interp"
)

func TestAssembleHaltOnly(t *testing.T) {
	words, err := assemble(strings.NewReader("halt\n"))
	require.NoError(t, err)
	require.Len(t, words, 1)
	require.Equal(t, interp.OpHALT, interp.Decode(words[0]).Op)
}

func TestAssembleArithmeticAndForwardBranch(t *testing.T) {
	src := `
addi r1, r0, 2
addi r2, r0, 2
beq r1, r2, done
addi r3, r0, 99 ; skipped
done:
add r4, r1, r2
halt
`
	words, err := assemble(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, words, 6)

	branch := interp.Decode(words[2])
	require.Equal(t, interp.OpBEQ, branch.Op)
	require.Equal(t, int32(1), branch.Imm) // skips exactly the one addi

	halt := interp.Decode(words[5])
	require.Equal(t, interp.OpHALT, halt.Op)
}

func TestAssembleBackwardJump(t *testing.T) {
	src := `
loop:
addi r1, r1, 1
jmp loop
`
	words, err := assemble(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, words, 2)

	jump := interp.Decode(words[1])
	require.Equal(t, interp.OpJMP, jump.Op)
	require.Equal(t, uint32(0), jump.Imm22)
}

func TestAssembleUndefinedLabelErrors(t *testing.T) {
	_, err := assemble(strings.NewReader("jmp nowhere\n"))
	require.Error(t, err)
}

func TestAssembleUnknownMnemonicErrors(t *testing.T) {
	_, err := assemble(strings.NewReader("frobnicate r1, r2, r3\n"))
	require.Error(t, err)
}

func TestAssembleSyscallAndSTOREtoLOADRoundTrip(t *testing.T) {
	src := `
addi r1, r0, 42
store r1, r0, 100
load r2, r0, 100
syscall
halt
`
	words, err := assemble(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, words, 5)
	require.Equal(t, interp.OpSTORE, interp.Decode(words[1]).Op)
	require.Equal(t, interp.OpLOAD, interp.Decode(words[2]).Op)
	require.Equal(t, interp.OpSYSCALL, interp.Decode(words[3]).Op)
}
