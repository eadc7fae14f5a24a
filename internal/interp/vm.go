package interp

import (
	"encoding/binary"
	"fmt"

	"github.com/radsat-ctf/radsat/internal/errs"
)

// VM is one interpreter instance, good for exactly one module dispatch.
// spec.md §4.1: "side effects restricted to ... a per-execution scratch
// buffer" — a fresh VM (and fresh scratch) is created per Execute call,
// never reused across dispatches.
type VM struct {
	regs    [NumRegisters]uint32
	pc      uint32
	scratch [ScratchSize]byte
	program []uint32
	host    Host
}

// New constructs a VM ready to run program (a decoded module's bytes,
// reinterpreted as a little-endian uint32 instruction stream) against
// host.
func New(programBytes []byte, host Host) *VM {
	words := make([]uint32, len(programBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(programBytes[i*4:])
	}
	return &VM{program: words, host: host}
}

// dispatch is the flat jump table spec.md §9's design note calls for:
// one function per opcode, indexed directly by Opcode, no dynamic
// dispatch on a per-instruction object.
var dispatch [opCount]func(*VM, Instruction) error

func init() {
	dispatch[OpHALT] = (*VM).execHalt
	dispatch[OpADD] = (*VM).execADD
	dispatch[OpSUB] = (*VM).execSUB
	dispatch[OpAND] = (*VM).execAND
	dispatch[OpOR] = (*VM).execOR
	dispatch[OpXOR] = (*VM).execXOR
	dispatch[OpADDI] = (*VM).execADDI
	dispatch[OpLOAD] = (*VM).execLOAD
	dispatch[OpSTORE] = (*VM).execSTORE
	dispatch[OpBEQ] = (*VM).execBEQ
	dispatch[OpBNE] = (*VM).execBNE
	dispatch[OpJMP] = (*VM).execJMP
	dispatch[OpSYSCALL] = (*VM).execSYSCALL
}

var errHalted = fmt.Errorf("interp: halted")

// Run executes up to budget instructions, or until HALT or a fault.
// A clean HALT returns nil. Exhausting the budget without a HALT returns
// an InterpreterFault, as does every other fault.
func (vm *VM) Run(budget int) error {
	for i := 0; i < budget; i++ {
		if int(vm.pc) >= len(vm.program) {
			return &errs.InterpreterFault{Reason: "pc out of bounds"}
		}
		word := vm.program[vm.pc]
		inst := Decode(word)
		vm.pc++

		if int(inst.Op) >= len(dispatch) || dispatch[inst.Op] == nil {
			return &errs.InterpreterFault{Reason: fmt.Sprintf("unknown opcode %d", inst.Op)}
		}
		if err := dispatch[inst.Op](vm, inst); err != nil {
			if err == errHalted {
				return nil
			}
			return err
		}
	}
	return &errs.InterpreterFault{Reason: "instruction budget exhausted"}
}

func (vm *VM) execHalt(_ Instruction) error { return errHalted }

func (vm *VM) execADD(i Instruction) error {
	vm.regs[i.Ra] = vm.regs[i.Rb] + vm.regs[i.Rc]
	return nil
}

func (vm *VM) execSUB(i Instruction) error {
	vm.regs[i.Ra] = vm.regs[i.Rb] - vm.regs[i.Rc]
	return nil
}

func (vm *VM) execAND(i Instruction) error {
	vm.regs[i.Ra] = vm.regs[i.Rb] & vm.regs[i.Rc]
	return nil
}

func (vm *VM) execOR(i Instruction) error {
	vm.regs[i.Ra] = vm.regs[i.Rb] | vm.regs[i.Rc]
	return nil
}

func (vm *VM) execXOR(i Instruction) error {
	vm.regs[i.Ra] = vm.regs[i.Rb] ^ vm.regs[i.Rc]
	return nil
}

func (vm *VM) execADDI(i Instruction) error {
	vm.regs[i.Ra] = uint32(int32(vm.regs[i.Rb]) + i.Imm)
	return nil
}

func (vm *VM) scratchBounds(base uint32, imm int32, length int) (int, error) {
	addr := int64(base) + int64(imm)
	if addr < 0 || addr+int64(length) > int64(ScratchSize) {
		return 0, &errs.InterpreterFault{Reason: "scratch access out of bounds"}
	}
	return int(addr), nil
}

func (vm *VM) execLOAD(i Instruction) error {
	addr, err := vm.scratchBounds(vm.regs[i.Rb], i.Imm, 4)
	if err != nil {
		return err
	}
	vm.regs[i.Ra] = binary.LittleEndian.Uint32(vm.scratch[addr:])
	return nil
}

func (vm *VM) execSTORE(i Instruction) error {
	addr, err := vm.scratchBounds(vm.regs[i.Rb], i.Imm, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(vm.scratch[addr:], vm.regs[i.Ra])
	return nil
}

func (vm *VM) execBEQ(i Instruction) error {
	if vm.regs[i.Ra] == vm.regs[i.Rb] {
		vm.pc = uint32(int64(vm.pc) + int64(i.Imm))
	}
	return nil
}

func (vm *VM) execBNE(i Instruction) error {
	if vm.regs[i.Ra] != vm.regs[i.Rb] {
		vm.pc = uint32(int64(vm.pc) + int64(i.Imm))
	}
	return nil
}

func (vm *VM) execJMP(i Instruction) error {
	vm.pc = i.Imm22
	return nil
}

// execSYSCALL dispatches through the closed syscall table of spec.md
// §4.1. R0 selects the syscall; an unrecognized number faults, matching
// "unknown syscall" in the fault list.
func (vm *VM) execSYSCALL(_ Instruction) error {
	switch vm.regs[0] {
	case SysLog:
		bufOff, length := vm.regs[1], vm.regs[2]
		if length > MaxLogAppend {
			length = MaxLogAppend
		}
		addr, err := vm.scratchBounds(bufOff, 0, int(length))
		if err != nil {
			return err
		}
		vm.host.AppendLog(append([]byte(nil), vm.scratch[addr:addr+int(length)]...))
		return nil

	case SysReadPath:
		pathIdx, dstOff, length := int(vm.regs[1]), vm.regs[2], vm.regs[3]
		data, err := vm.host.ReadPath(pathIdx)
		if err != nil {
			return &errs.InterpreterFault{Reason: "path index outside whitelist"}
		}
		if uint32(len(data)) > length {
			data = data[:length]
		}
		addr, err := vm.scratchBounds(dstOff, 0, len(data))
		if err != nil {
			return err
		}
		copy(vm.scratch[addr:], data)
		vm.regs[0] = uint32(len(data))
		return nil

	case SysTime:
		vm.regs[0] = vm.host.Time()
		return nil

	case SysSCState:
		dstOff := vm.regs[1]
		state := vm.host.SpacecraftState()
		addr, err := vm.scratchBounds(dstOff, 0, len(state))
		if err != nil {
			return err
		}
		copy(vm.scratch[addr:], state)
		return nil

	default:
		return &errs.InterpreterFault{Reason: fmt.Sprintf("unknown syscall %d", vm.regs[0])}
	}
}
