// Package interp implements the bytecode interpreter of spec.md §4.1: a
// small register machine with a fixed ISA (arithmetic, scratch-buffer
// load/store, branches, SYSCALL), dispatched through a flat jump table,
// executing a decoded module under a hard instruction budget.
//
// Instruction encoding
//
// Every instruction is one 32-bit word, little-endian, in one of three
// formats (directly modeled on bassosimone/risc32's RRR/RRI/RI split):
//
//	RRR: <Opcode:6><Ra:4><Rb:4><Rc:4><Unused:14>
//	RRI: <Opcode:6><Ra:4><Rb:4><SignedImm18:18>
//	RI:  <Opcode:6><Ra:4><Imm22:22>
//
// A verified, enabled module's decoded byte string is this word stream,
// produced by cmd/modasm.
package interp

// Opcode identifies an instruction. 6 bits are reserved, giving room for
// the syscall-table-extension the spec.md §9 Open Question leaves for a
// future configuration surface.
type Opcode uint32

const (
	OpHALT Opcode = iota
	OpADD         // RRR: Ra = Rb + Rc
	OpSUB         // RRR: Ra = Rb - Rc
	OpAND         // RRR: Ra = Rb & Rc
	OpOR          // RRR: Ra = Rb | Rc
	OpXOR         // RRR: Ra = Rb ^ Rc
	OpADDI        // RRI: Ra = Rb + signext(imm)
	OpLOAD        // RRI: Ra = scratch[Rb + imm]  (4 bytes, little-endian)
	OpSTORE       // RRI: scratch[Rb + imm] = Ra  (4 bytes, little-endian)
	OpBEQ         // RRI: if Ra == Rb { PC += signext(imm) }
	OpBNE         // RRI: if Ra != Rb { PC += signext(imm) }
	OpJMP         // RI:  PC = imm
	OpSYSCALL     // RI:  dispatch syscall numbered by R0; args R1..R3
	opCount
)

// Register count. R0 carries the syscall number on OpSYSCALL and, for
// read_path and time, the return value afterward (log and sc_state leave
// it unchanged); it is an ordinary register otherwise (unlike
// RiSC-style machines, nothing hardwires it to zero).
const NumRegisters = 8

// ScratchSize is the size in bytes of the per-execution scratch buffer
// that LOAD/STORE and syscalls read and write. spec.md §4.1: "mutating a
// per-execution scratch buffer" is the interpreter's only other
// permitted side effect besides syscalls.
const ScratchSize = 4096

// Instruction is a decoded instruction ready for dispatch.
type Instruction struct {
	Op        Opcode
	Ra, Rb, Rc uint32
	Imm       int32 // sign-extended for RRI; unsigned for RI (use Imm22 instead)
	Imm22     uint32
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// Decode splits a raw 32-bit instruction word into its fields. The
// caller selects which fields are meaningful based on Op.
func Decode(word uint32) Instruction {
	op := Opcode((word >> 26) & 0x3F)
	ra := (word >> 22) & 0xF
	rb := (word >> 18) & 0xF
	rc := (word >> 14) & 0xF
	imm18 := word & 0x3FFFF
	imm22 := word & 0x3FFFFF
	return Instruction{
		Op:    op,
		Ra:    ra,
		Rb:    rb,
		Rc:    rc,
		Imm:   signExtend(imm18, 18),
		Imm22: imm22,
	}
}

// Encode assembles an RRR-format word. Used by cmd/modasm.
func EncodeRRR(op Opcode, ra, rb, rc uint32) uint32 {
	return uint32(op)<<26 | (ra&0xF)<<22 | (rb&0xF)<<18 | (rc&0xF)<<14
}

// EncodeRRI assembles an RRI-format word with an 18-bit signed immediate.
func EncodeRRI(op Opcode, ra, rb uint32, imm int32) uint32 {
	return uint32(op)<<26 | (ra&0xF)<<22 | (rb&0xF)<<18 | (uint32(imm) & 0x3FFFF)
}

// EncodeRI assembles an RI-format word with a 22-bit immediate.
func EncodeRI(op Opcode, ra uint32, imm uint32) uint32 {
	return uint32(op)<<26 | (ra&0xF)<<22 | (imm & 0x3FFFFF)
}
