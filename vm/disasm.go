package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a human-readable listing of the chunk and its nested
// functions.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder
	c.disassemble(&sb, name, "")
	return sb.String()
}

func (c *Chunk) disassemble(sb *strings.Builder, name, indent string) {
	if name != "" {
		fmt.Fprintf(sb, "%s; === %s ===\n", indent, name)
	}
	fmt.Fprintf(sb, "%s; Dog bytecode v%d: %d instructions, %d functions\n",
		indent, BytecodeVersion, len(c.Code), len(c.Functions))

	for i := range c.Code {
		ins := &c.Code[i]
		fmt.Fprintf(sb, "%s%04d  %-28s ; %d:%d\n", indent, i, FormatInstruction(ins), ins.Line, ins.Col)
	}

	for i, fn := range c.Functions {
		sb.WriteString("\n")
		label := fmt.Sprintf("fn #%d (%s)", i, strings.Join(fn.Params, ", "))
		fn.Body.disassemble(sb, label, indent+"    ")
	}
}

// FormatInstruction renders an opcode and its payload.
func FormatInstruction(ins *Instruction) string {
	name := ins.Op.String()
	switch ins.Op.Info().Payload {
	case PayloadInt32, PayloadInt64, PayloadDouble, PayloadBool:
		return name + " " + ins.Const.Printable()
	case PayloadText:
		if ins.Op == OpConstStr {
			return name + " " + strconv.Quote(ins.Const.Str())
		}
		return name + " " + ins.Const.Printable()
	case PayloadCount:
		return fmt.Sprintf("%s %d", name, ins.Arg)
	case PayloadName:
		return name + " " + ins.Name
	case PayloadCall:
		if ins.IsConst {
			return fmt.Sprintf("%s %s.%s const", name, ins.Name, ins.Member)
		}
		return fmt.Sprintf("%s %s.%s/%d", name, ins.Name, ins.Member, ins.Arg)
	case PayloadTarget:
		return fmt.Sprintf("%s -> %04d", name, ins.Target)
	}
	return name
}
