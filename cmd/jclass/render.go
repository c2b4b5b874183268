package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/jclassfile/classfile"
)

type palette struct {
	title  lipgloss.Style
	member lipgloss.Style
	typ    lipgloss.Style
	label  lipgloss.Style
	dim    lipgloss.Style
	err    lipgloss.Style
}

func colorPalette() palette {
	return palette{
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4")).Padding(0, 1),
		member: lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		typ:    lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD580")),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
	}
}

func plainPalette() palette {
	s := lipgloss.NewStyle()
	return palette{title: s, member: s, typ: s, label: s, dim: s, err: s}
}

// renderClass writes a one-screen summary of m.
func renderClass(w io.Writer, m *classfile.ClassModel, p palette) error {
	super := "-"
	if m.Superclass() != nil {
		super = m.Superclass().InternalName()
	}
	fmt.Fprintf(w, "%s %s\n", p.title.Render(m.ThisClass().InternalName()), p.dim.Render("version "+m.Version().String()))
	fmt.Fprintf(w, "  flags:      %s\n", m.Flags())
	fmt.Fprintf(w, "  super:      %s\n", p.typ.Render(super))
	if len(m.Interfaces()) > 0 {
		names := make([]string, len(m.Interfaces()))
		for i, c := range m.Interfaces() {
			names[i] = c.InternalName()
		}
		fmt.Fprintf(w, "  interfaces: %s\n", p.typ.Render(strings.Join(names, ", ")))
	}
	fmt.Fprintf(w, "  pool:       %d entries, %d bootstrap methods\n",
		m.ConstantPool().Size()-1, len(m.ConstantPool().BootstrapMethods()))

	if len(m.Fields()) > 0 {
		fmt.Fprintln(w, "\nfields:")
		for _, f := range m.Fields() {
			fmt.Fprintf(w, "  %s %s %s\n", f.Flags(), p.member.Render(f.Name().String()), p.typ.Render(f.Descriptor().String()))
		}
	}
	if len(m.Methods()) > 0 {
		fmt.Fprintln(w, "\nmethods:")
		for _, mm := range m.Methods() {
			fmt.Fprintf(w, "  %s\n", methodLine(mm, p))
		}
	}

	attrs, err := m.Attributes()
	if err != nil {
		return err
	}
	if len(attrs) > 0 {
		names := make([]string, len(attrs))
		for i, a := range attrs {
			names[i] = a.AttributeName()
		}
		fmt.Fprintf(w, "\nattributes: %s\n", strings.Join(names, ", "))
	}
	return nil
}

func methodLine(mm *classfile.MethodModel, p palette) string {
	line := fmt.Sprintf("%s %s%s", mm.Flags(), p.member.Render(mm.Name().String()), p.typ.Render(mm.Descriptor().String()))
	if c := mm.Code(); c != nil {
		line += p.dim.Render(fmt.Sprintf("  [code %d bytes, stack %d, locals %d]",
			len(c.Bytecode()), c.MaxStack(), c.MaxLocals()))
	}
	return strings.TrimSpace(line)
}

// renderCode disassembles a method body. Labels are renumbered in order of
// first appearance.
func renderCode(w io.Writer, mm *classfile.MethodModel, p palette) error {
	fmt.Fprintln(w, methodLine(mm, p))
	c := mm.Code()
	if c == nil {
		fmt.Fprintln(w, p.dim.Render("  (no code)"))
		return nil
	}
	elems, err := c.Elements()
	if err != nil {
		return err
	}

	names := map[*classfile.Label]string{}
	name := func(l *classfile.Label) string {
		n, ok := names[l]
		if !ok {
			n = fmt.Sprintf("L%d", len(names))
			names[l] = n
		}
		return p.label.Render(n)
	}

	for _, e := range elems {
		switch e := e.(type) {
		case classfile.LabelTarget:
			fmt.Fprintf(w, "%s:\n", name(e.Label))
		case classfile.Instruction:
			fmt.Fprintf(w, "    %s\n", instructionText(e, name))
		case classfile.ExceptionCatch:
			catch := "any"
			if e.CatchType != nil {
				catch = e.CatchType.InternalName()
			}
			fmt.Fprintf(w, "    %s\n", p.dim.Render(fmt.Sprintf("try %s..%s catch %s -> %s",
				name(e.Start), name(e.End), catch, name(e.Handler))))
		case classfile.LineNumber:
			fmt.Fprintf(w, "    %s\n", p.dim.Render(fmt.Sprintf("line %d", e.Line)))
		case classfile.LocalVariable:
			fmt.Fprintf(w, "    %s\n", p.dim.Render(fmt.Sprintf("local %d %s %s %s..%s",
				e.Slot, e.Name, e.Type, name(e.Start), name(e.End))))
		}
	}
	return nil
}

func instructionText(in classfile.Instruction, name func(*classfile.Label) string) string {
	op := in.Op.String()
	switch imm := in.Imm.(type) {
	case nil:
		return op
	case classfile.LocalImm:
		if strings.Contains(op, "_") {
			return op
		}
		return fmt.Sprintf("%s %d", op, imm.Slot)
	case classfile.IncImm:
		return fmt.Sprintf("%s %d %+d", op, imm.Slot, imm.Delta)
	case classfile.ArgImm:
		return fmt.Sprintf("%s %d", op, imm.Value)
	case classfile.NewArrayImm:
		return op + " " + imm.Kind.String()
	case classfile.ConstImm:
		return op + " " + constantText(imm.Entry)
	case classfile.BranchImm:
		return op + " " + name(imm.Target)
	case classfile.FieldImm:
		return op + " " + imm.Ref.String()
	case classfile.InvokeImm:
		return op + " " + imm.Ref.String()
	case classfile.InvokeDynamicImm:
		return fmt.Sprintf("%s %s:%s", op, imm.Entry.Name(), imm.Entry.Type())
	case classfile.TypeImm:
		return op + " " + imm.Class.InternalName()
	case classfile.MultiArrayImm:
		return fmt.Sprintf("%s %s %d", op, imm.Class.InternalName(), imm.Dims)
	case classfile.TableSwitchImm:
		targets := make([]string, len(imm.Targets))
		for i, t := range imm.Targets {
			targets[i] = fmt.Sprintf("%d: %s", int(imm.Low)+i, name(t))
		}
		return fmt.Sprintf("%s { %s, default: %s }", op, strings.Join(targets, ", "), name(imm.Default))
	case classfile.LookupSwitchImm:
		cases := make([]string, len(imm.Cases))
		for i, c := range imm.Cases {
			cases[i] = fmt.Sprintf("%d: %s", c.Key, name(c.Target))
		}
		return fmt.Sprintf("%s { %s, default: %s }", op, strings.Join(cases, ", "), name(imm.Default))
	}
	return in.String()
}

func constantText(e classfile.LoadableEntry) string {
	switch e := e.(type) {
	case *classfile.IntegerEntry:
		return fmt.Sprintf("%d", e.Value())
	case *classfile.LongEntry:
		return fmt.Sprintf("%dL", e.Value())
	case *classfile.FloatEntry:
		return fmt.Sprintf("%gf", e.Value())
	case *classfile.DoubleEntry:
		return fmt.Sprintf("%gd", e.Value())
	case *classfile.StringEntry:
		return fmt.Sprintf("%q", e.String())
	case *classfile.ClassEntry:
		return e.InternalName() + ".class"
	case *classfile.MethodTypeEntry:
		return e.Descriptor.String()
	case *classfile.MethodHandleEntry:
		return e.Reference.String()
	case *classfile.DynamicEntry:
		return e.Name() + ":" + e.Type()
	}
	return fmt.Sprintf("%v", e)
}

// findMethods returns the methods whose name, or name followed by
// descriptor, equals sel.
func findMethods(m *classfile.ClassModel, sel string) []*classfile.MethodModel {
	var out []*classfile.MethodModel
	for _, mm := range m.Methods() {
		if mm.Name().Equals(sel) || mm.Name().String()+mm.Descriptor().String() == sel {
			out = append(out, mm)
		}
	}
	return out
}
