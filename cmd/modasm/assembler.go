package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/radsat-ctf/radsat/internal/interp"
)

type instrFormat int

const (
	fmtRRR instrFormat = iota
	fmtRRI
	fmtRRIBranch // RRI with a label/offset third operand, PC-relative
	fmtRI        // single register + absolute-address operand (JMP)
	fmtNone      // no operands (HALT, SYSCALL)
)

type instrDef struct {
	op     interp.Opcode
	format instrFormat
}

// mnemonics is RADSAT's entire instruction set, per internal/interp's
// isa.go — 13 opcodes, three encodings. Grounded on the shape of the
// teacher's asm/types.go instruction table, scaled down to match.
var mnemonics = map[string]instrDef{
	"halt":    {interp.OpHALT, fmtNone},
	"add":     {interp.OpADD, fmtRRR},
	"sub":     {interp.OpSUB, fmtRRR},
	"and":     {interp.OpAND, fmtRRR},
	"or":      {interp.OpOR, fmtRRR},
	"xor":     {interp.OpXOR, fmtRRR},
	"addi":    {interp.OpADDI, fmtRRI},
	"load":    {interp.OpLOAD, fmtRRI},
	"store":   {interp.OpSTORE, fmtRRI},
	"beq":     {interp.OpBEQ, fmtRRIBranch},
	"bne":     {interp.OpBNE, fmtRRIBranch},
	"jmp":     {interp.OpJMP, fmtRI},
	"syscall": {interp.OpSYSCALL, fmtNone},
}

type fixup struct {
	wordIdx int
	label   string
	line    int
	branch  bool // true: PC-relative (BEQ/BNE); false: absolute (JMP)
	ra, rb  uint32
}

// assemble performs the teacher's classic two-pass assembly (asm/assembler.go's
// processLine/resolve-fixups shape): pass one counts instructions and
// records label addresses, pass two emits words and patches forward
// references.
func assemble(r io.Reader) ([]uint32, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	labels := make(map[string]int)
	type stmt struct {
		toks []token
		line int
	}
	var stmts []stmt

	wordIdx := 0
	for i, line := range lines {
		toks, err := tokenizeLine(line, i+1)
		if err != nil {
			return nil, err
		}
		if len(toks) == 0 {
			continue
		}
		pos := 0
		if len(toks) >= 2 && toks[0].kind == tokIdent && toks[1].kind == tokColon {
			labels[toks[0].text] = wordIdx
			pos = 2
		}
		if pos >= len(toks) {
			continue
		}
		stmts = append(stmts, stmt{toks: toks[pos:], line: i + 1})
		wordIdx++
	}

	words := make([]uint32, len(stmts))
	var fixups []fixup

	for idx, s := range stmts {
		name := strings.ToLower(s.toks[0].text)
		def, ok := mnemonics[name]
		if !ok {
			return nil, &asmError{line: s.line, msg: "unknown mnemonic " + s.toks[0].text}
		}
		args := args(s.toks[1:])

		switch def.format {
		case fmtNone:
			words[idx] = interp.EncodeRI(def.op, 0, 0)

		case fmtRRR:
			if len(args) != 3 {
				return nil, &asmError{line: s.line, msg: name + " expects 3 registers"}
			}
			ra, err := reg(args[0])
			if err != nil {
				return nil, &asmError{line: s.line, msg: err.Error()}
			}
			rb, err := reg(args[1])
			if err != nil {
				return nil, &asmError{line: s.line, msg: err.Error()}
			}
			rc, err := reg(args[2])
			if err != nil {
				return nil, &asmError{line: s.line, msg: err.Error()}
			}
			words[idx] = interp.EncodeRRR(def.op, ra, rb, rc)

		case fmtRRI:
			if len(args) != 3 {
				return nil, &asmError{line: s.line, msg: name + " expects 2 registers and an immediate"}
			}
			ra, err := reg(args[0])
			if err != nil {
				return nil, &asmError{line: s.line, msg: err.Error()}
			}
			rb, err := reg(args[1])
			if err != nil {
				return nil, &asmError{line: s.line, msg: err.Error()}
			}
			if args[2].kind != tokNumber {
				return nil, &asmError{line: s.line, msg: name + " expects an immediate operand"}
			}
			words[idx] = interp.EncodeRRI(def.op, ra, rb, int32(args[2].number))

		case fmtRRIBranch:
			if len(args) != 3 {
				return nil, &asmError{line: s.line, msg: name + " expects 2 registers and a target"}
			}
			ra, err := reg(args[0])
			if err != nil {
				return nil, &asmError{line: s.line, msg: err.Error()}
			}
			rb, err := reg(args[1])
			if err != nil {
				return nil, &asmError{line: s.line, msg: err.Error()}
			}
			if args[2].kind == tokNumber {
				words[idx] = interp.EncodeRRI(def.op, ra, rb, int32(args[2].number))
			} else {
				fixups = append(fixups, fixup{wordIdx: idx, label: args[2].text, line: s.line, branch: true, ra: ra, rb: rb})
			}

		case fmtRI:
			if len(args) != 1 {
				return nil, &asmError{line: s.line, msg: name + " expects one target operand"}
			}
			if args[0].kind == tokNumber {
				words[idx] = interp.EncodeRI(def.op, 0, uint32(args[0].number))
			} else {
				fixups = append(fixups, fixup{wordIdx: idx, label: args[0].text, line: s.line, branch: false})
			}
		}
	}

	for _, f := range fixups {
		target, ok := labels[f.label]
		if !ok {
			return nil, &asmError{line: f.line, msg: "undefined label " + f.label}
		}
		if f.branch {
			offset := int32(target - (f.wordIdx + 1))
			op := interp.OpBEQ
			if strings.ToLower(stmts[f.wordIdx].toks[0].text) == "bne" {
				op = interp.OpBNE
			}
			words[f.wordIdx] = interp.EncodeRRI(op, f.ra, f.rb, offset)
		} else {
			words[f.wordIdx] = interp.EncodeRI(interp.OpJMP, 0, uint32(target))
		}
	}

	return words, nil
}

func args(toks []token) []token {
	var out []token
	for _, t := range toks {
		if t.kind != tokComma {
			out = append(out, t)
		}
	}
	return out
}

func reg(t token) (uint32, error) {
	if t.kind != tokIdent || !strings.HasPrefix(t.text, "r") {
		return 0, fmt.Errorf("expected register, got %q", t.text)
	}
	n, err := strconv.Atoi(t.text[1:])
	if err != nil || n < 0 || n >= interp.NumRegisters {
		return 0, fmt.Errorf("invalid register %q", t.text)
	}
	return uint32(n), nil
}
