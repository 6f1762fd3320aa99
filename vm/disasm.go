package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a listing of u followed by its nested templates.
func Disassemble(u *Unit) string {
	var sb strings.Builder
	disassembleInto(&sb, u)
	return sb.String()
}

func disassembleInto(sb *strings.Builder, u *Unit) {
	fmt.Fprintf(sb, "; === %s ===\n", u.Name)
	fmt.Fprintf(sb, "; package %s, registers %d", u.Package, u.RegisterCount)
	if n := u.CaptureCount(); n > 0 {
		fmt.Fprintf(sb, ", captures %s", strings.Join(u.CaptureNames, " "))
	}
	sb.WriteString("\n")
	for pc := 0; pc < len(u.Code); {
		line, n := DisassembleInstruction(u, pc)
		sb.WriteString(line)
		sb.WriteString("\n")
		if n == 0 {
			break
		}
		pc += n
	}
	for _, c := range u.Constants {
		if c.Kind == ConstUnit && c.Unit != nil {
			sb.WriteString("\n")
			disassembleInto(sb, c.Unit)
		}
	}
}

// DisassembleInstruction formats the instruction at pc and returns its
// length in words, or 0 if it cannot be decoded.
func DisassembleInstruction(u *Unit, pc int) (string, int) {
	op := Opcode(u.Code[pc])
	n := InstructionLen(u.Code, pc)
	if n == 0 {
		return fmt.Sprintf("%04d  %s", pc, op), 0
	}
	var parts []string
	w := pc + 1
	for _, k := range opcodeInfoTable[op].Operands {
		v := int(u.Code[w])
		switch OperandKind(k) {
		case OperandReg:
			parts = append(parts, "r"+strconv.Itoa(v))
		case OperandConst:
			parts = append(parts, u.constString(v))
		case OperandString:
			parts = append(parts, u.stringOperand(v))
		case OperandLabel:
			if v < 0 {
				parts = append(parts, "-")
			} else {
				parts = append(parts, u.stringOperand(v))
			}
		case OperandJump:
			parts = append(parts, fmt.Sprintf("->%04d", v))
		case OperandContext:
			parts = append(parts, Context(v).String())
		case OperandImm:
			parts = append(parts, strconv.Itoa(v))
		case OperandCount:
			regs := make([]string, v)
			for j := 0; j < v; j++ {
				regs[j] = "r" + strconv.Itoa(int(u.Code[w+1+j]))
			}
			parts = append(parts, "["+strings.Join(regs, " ")+"]")
			w += v
		}
		w++
	}
	line := fmt.Sprintf("%04d  %-14s %s", pc, op, strings.Join(parts, ", "))
	return strings.TrimRight(line, " "), n
}

// DisassembleWindow lists up to radius instructions either side of pc,
// marking the instruction at pc.
func DisassembleWindow(u *Unit, pc, radius int) string {
	var starts []int
	at := -1
	for p := 0; p < len(u.Code); {
		if p == pc {
			at = len(starts)
		}
		starts = append(starts, p)
		n := InstructionLen(u.Code, p)
		if n == 0 {
			break
		}
		p += n
	}
	if at < 0 {
		return fmt.Sprintf("; pc %d is not an instruction boundary in %s", pc, u.Name)
	}
	lo, hi := at-radius, at+radius
	if lo < 0 {
		lo = 0
	}
	if hi >= len(starts) {
		hi = len(starts) - 1
	}
	var sb strings.Builder
	for i := lo; i <= hi; i++ {
		line, _ := DisassembleInstruction(u, starts[i])
		if i == at {
			sb.WriteString(">> ")
		} else {
			sb.WriteString("   ")
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (u *Unit) constString(i int) string {
	if i < 0 || i >= len(u.Constants) {
		return fmt.Sprintf("k%d?", i)
	}
	c := u.Constants[i]
	switch c.Kind {
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstNum:
		return FormatNum(c.Num)
	case ConstStr:
		return strconv.Quote(truncate(c.Str, 40))
	case ConstUnit:
		if c.Unit != nil {
			return "<" + c.Unit.Name + ">"
		}
	}
	return fmt.Sprintf("k%d", i)
}

func (u *Unit) stringOperand(i int) string {
	if i < 0 || i >= len(u.Strings) {
		return fmt.Sprintf("s%d?", i)
	}
	return strconv.Quote(truncate(u.Strings[i], 40))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
