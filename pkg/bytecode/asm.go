package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/chazu/mettajit/pkg/atom"
)

// Assemble builds a chunk from assembly text.
//
// One instruction per line. Mnemonics are opcode names in either spelling
// ("PUSH_LONG_SMALL", "PushLongSmall", "pushlongsmall"); ';' starts a
// comment. A line "name:" defines a label. Operands:
//
//	push 42                  ; integer, short or pooled form
//	pushatom foo             ; constant operands take atom literals
//	pushconstant (f 1 "x")   ; expressions, strings, $vars, True, Nil ...
//	jump done                ; jumps take labels
//	fork 1 2 3               ; one literal per alternative
//	call fib 1               ; head literal, arity
//	jumptable a=L1 b=L2 default=L3
//	.locals 2                ; directives: .name, .locals
func Assemble(src string) (*Chunk, error) {
	a := &assembler{
		b:      NewBuilder(""),
		labels: map[string]int{},
	}
	for n, line := range strings.Split(src, "\n") {
		if err := a.line(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
	}
	if err := a.resolve(); err != nil {
		return nil, err
	}
	return a.b.Build(), nil
}

type fixup struct {
	placeholder int
	label       string
}

type tableFixup struct {
	index   uint16
	keys    []atom.Atom
	labels  []string
	deflt   string
	hasDflt bool
}

type assembler struct {
	b      *Builder
	labels map[string]int
	fixups []fixup
	tables []tableFixup
}

func (a *assembler) line(line string) error {
	toks, err := tokenize(stripComment(line))
	if err != nil {
		return err
	}
	for len(toks) > 0 && strings.HasSuffix(toks[0], ":") && !strings.HasPrefix(toks[0], "\"") {
		name := strings.TrimSuffix(toks[0], ":")
		if _, dup := a.labels[name]; dup {
			return fmt.Errorf("duplicate label %q", name)
		}
		a.labels[name] = a.b.CurrentOffset()
		toks = toks[1:]
	}
	if len(toks) == 0 {
		return nil
	}

	mnemonic, args := toks[0], toks[1:]
	switch strings.ToLower(mnemonic) {
	case ".name":
		if len(args) != 1 {
			return fmt.Errorf(".name takes one argument")
		}
		a.b.name = unquote(args[0])
		return nil
	case ".locals":
		n, err := intArg(args, 0)
		if err != nil {
			return err
		}
		a.b.SetLocalCount(int(n))
		return nil
	case "push":
		n, err := intArg(args, 0)
		if err != nil {
			return err
		}
		a.b.EmitInt(n)
		return nil
	}

	op, ok := LookupOpcode(mnemonic)
	if !ok {
		return fmt.Errorf("unknown mnemonic %q", mnemonic)
	}
	return a.instruction(op, args)
}

func (a *assembler) instruction(op Opcode, args []string) error {
	switch {
	case op == OpFork:
		values, err := parseAtoms(args)
		if err != nil {
			return err
		}
		a.b.EmitFork(values...)
		return nil

	case op == OpJumpTable:
		return a.jumpTable(args)

	case op.IsJump():
		if len(args) != 1 {
			return fmt.Errorf("%s takes a label", op)
		}
		a.fixups = append(a.fixups, fixup{placeholder: a.b.EmitJump(op), label: args[0]})
		return nil
	}

	switch operandShape(op) {
	case shapeNone:
		if len(args) != 0 {
			return fmt.Errorf("%s takes no operands", op)
		}
		a.b.Emit(op)

	case shapeU16U8:
		values, err := parseAtoms(args[:min(1, len(args))])
		if err != nil || len(values) != 1 {
			return fmt.Errorf("%s takes a head and an arity", op)
		}
		n, err := intArg(args, 1)
		if err != nil {
			return err
		}
		if n < 0 || n > math.MaxUint8 {
			return fmt.Errorf("arity %d out of range", n)
		}
		a.b.EmitCall(op, values[0], uint8(n))

	case shapeU8U8:
		x, err := intArg(args, 0)
		if err != nil {
			return err
		}
		y, err := intArg(args, 1)
		if err != nil {
			return err
		}
		a.b.EmitWithOperand(op, byte(x), byte(y))

	default:
		if UsesConstant(op) {
			values, err := parseAtoms(args)
			if err != nil {
				return err
			}
			if len(values) != 1 {
				return fmt.Errorf("%s takes one literal", op)
			}
			idx := a.b.AddConstant(values[0])
			if op.OperandLen() == 1 {
				if idx > math.MaxUint8 {
					return fmt.Errorf("%s: constant index %d does not fit in u8", op, idx)
				}
				a.b.EmitU8(op, uint8(idx))
			} else {
				a.b.EmitU16(op, idx)
			}
			return nil
		}
		n, err := intArg(args, 0)
		if err != nil {
			return err
		}
		switch operandShape(op) {
		case shapeU8:
			if n < 0 || n > math.MaxUint8 {
				return fmt.Errorf("%s: operand %d out of range", op, n)
			}
			a.b.EmitU8(op, uint8(n))
		case shapeI8:
			if n < math.MinInt8 || n > math.MaxInt8 {
				return fmt.Errorf("%s: operand %d out of range", op, n)
			}
			a.b.EmitI8(op, int8(n))
		default:
			if n < 0 || n > math.MaxUint16 {
				return fmt.Errorf("%s: operand %d out of range", op, n)
			}
			a.b.EmitU16(op, uint16(n))
		}
	}
	return nil
}

func (a *assembler) jumpTable(args []string) error {
	tf := tableFixup{}
	for _, arg := range args {
		key, label, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("jumptable entry %q needs key=label", arg)
		}
		if key == "default" {
			tf.deflt, tf.hasDflt = label, true
			continue
		}
		values, err := parseAtoms([]string{key})
		if err != nil {
			return err
		}
		tf.keys = append(tf.keys, values[0])
		tf.labels = append(tf.labels, label)
	}
	if !tf.hasDflt {
		return fmt.Errorf("jumptable needs a default")
	}
	tf.index = a.b.AddJumpTable(JumpTable{})
	a.b.EmitU16(OpJumpTable, tf.index)
	a.tables = append(a.tables, tf)
	return nil
}

func (a *assembler) resolve() error {
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return fmt.Errorf("undefined label %q", f.label)
		}
		width := Opcode(a.b.code[f.placeholder-1]).OperandLen()
		delta := target - (f.placeholder + width)
		if width == 1 && (delta < math.MinInt8 || delta > math.MaxInt8) {
			return fmt.Errorf("label %q out of short jump range", f.label)
		}
		if delta < math.MinInt16 || delta > math.MaxInt16 {
			return fmt.Errorf("label %q out of jump range", f.label)
		}
		a.b.PatchJumpTo(f.placeholder, target)
	}
	for _, tf := range a.tables {
		t := JumpTable{}
		for i, k := range tf.keys {
			target, ok := a.labels[tf.labels[i]]
			if !ok {
				return fmt.Errorf("undefined label %q", tf.labels[i])
			}
			t.Entries = append(t.Entries, JumpEntry{Hash: atom.Hash(k), Target: target})
		}
		target, ok := a.labels[tf.deflt]
		if !ok {
			return fmt.Errorf("undefined label %q", tf.deflt)
		}
		t.Default = target
		a.b.SetJumpTable(tf.index, t)
	}
	return nil
}

func intArg(args []string, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing operand %d", i+1)
	}
	n, err := strconv.ParseInt(args[i], 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q", args[i])
	}
	return n, nil
}

func stripComment(line string) string {
	inString := false
	for i, r := range line {
		switch {
		case r == '"' && (i == 0 || line[i-1] != '\\'):
			inString = !inString
		case r == ';' && !inString:
			return line[:i]
		}
	}
	return line
}

// tokenize splits a line into words, parentheses and quoted strings.
func tokenize(line string) ([]string, error) {
	var toks []string
	rs := []rune(line)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			toks = append(toks, string(r))
			i++
		case r == '"':
			j := i + 1
			for j < len(rs) && (rs[j] != '"' || rs[j-1] == '\\') {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string")
			}
			toks = append(toks, string(rs[i:j+1]))
			i = j + 1
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && rs[j] != '(' && rs[j] != ')' {
				j++
			}
			toks = append(toks, string(rs[i:j]))
			i = j
		}
	}
	return toks, nil
}

func unquote(s string) string {
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s
}

// parseAtoms reads every literal in toks.
func parseAtoms(toks []string) ([]atom.Atom, error) {
	var out []atom.Atom
	for len(toks) > 0 {
		a, rest, err := parseAtom(toks)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		toks = rest
	}
	return out, nil
}

// ParseAtom reads a single atom literal such as `(f $x "s" 1.5)`.
func ParseAtom(src string) (atom.Atom, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	a, rest, err := parseAtom(toks)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing input %q", strings.Join(rest, " "))
	}
	return a, nil
}

func parseAtom(toks []string) (atom.Atom, []string, error) {
	if len(toks) == 0 {
		return nil, nil, fmt.Errorf("expected literal")
	}
	tok := toks[0]
	switch {
	case tok == ")":
		return nil, nil, fmt.Errorf("unexpected )")
	case tok == "(":
		rest := toks[1:]
		var children []atom.Atom
		for {
			if len(rest) == 0 {
				return nil, nil, fmt.Errorf("unclosed (")
			}
			if rest[0] == ")" {
				if len(children) == 0 {
					return atom.UnitAtom, rest[1:], nil
				}
				return atom.Expr{Children: children}, rest[1:], nil
			}
			c, r, err := parseAtom(rest)
			if err != nil {
				return nil, nil, err
			}
			children = append(children, c)
			rest = r
		}
	case strings.HasPrefix(tok, "\""):
		s, err := strconv.Unquote(tok)
		if err != nil {
			return nil, nil, fmt.Errorf("bad string %s", tok)
		}
		return atom.Str(s), toks[1:], nil
	}
	return word(tok), toks[1:], nil
}

func word(tok string) atom.Atom {
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return atom.Long(n)
	}
	if strings.ContainsAny(tok, ".eE") || tok == "inf" || tok == "-inf" || tok == "nan" {
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return atom.Float(f)
		}
	}
	switch tok {
	case "True":
		return atom.True
	case "False":
		return atom.False
	case "Nil":
		return atom.NilAtom
	}
	if strings.HasPrefix(tok, "$") && len(tok) > 1 {
		return atom.Var(tok[1:])
	}
	if strings.HasPrefix(tok, "&") && len(tok) > 1 {
		return atom.Space{Name: tok[1:]}
	}
	return atom.Symbol(tok)
}
