package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// ProgramVersion is the current program format version.
// Increment when making incompatible changes to the format.
const ProgramVersion uint16 = 1

// Magic bytes for program files: "YSBC" (Yarn Story ByteCode)
var ProgramMagic = []byte{'Y', 'S', 'B', 'C'}

// ProgramFlags contains format flags for a serialized program.
type ProgramFlags uint16

const (
	// FlagLabels indicates per-node label tables are present.
	FlagLabels ProgramFlags = 1 << 0
)

// Serialize encodes the program to bytes.
// Format:
//
//	[magic:4] [version:2] [flags:2]
//	[name:str]
//	[initial_count:2] { [name:str] [operand] }
//	[node_count:2] {
//	    [name:str] [tag_count:2] { [tag:str] }
//	    [label_count:2] { [label:str] [offset:4] }   (if FlagLabels)
//	    [instr_count:4] { [opcode:1] [operand_count:1] { [operand] } }
//	}
//
// str is [len:2][bytes]; operand is [kind:1] followed by [len:4][bytes],
// [float64 bits:8] or [bool:1]. Initial values are written in name order so
// equal programs serialize identically.
func (p *Program) Serialize() ([]byte, error) {
	flags := ProgramFlags(0)
	for _, n := range p.Nodes {
		if len(n.Labels) > 0 {
			flags |= FlagLabels
			break
		}
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, ProgramMagic...)
	buf = binary.BigEndian.AppendUint16(buf, ProgramVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(flags))

	var err error
	if buf, err = appendStr(buf, p.Name); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(p.InitialValues))
	for name := range p.InitialValues {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > math.MaxUint16 {
		return nil, fmt.Errorf("too many initial values: %d", len(names))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(names)))
	for _, name := range names {
		if buf, err = appendStr(buf, name); err != nil {
			return nil, err
		}
		buf = appendOperand(buf, p.InitialValues[name])
	}

	if len(p.Nodes) > math.MaxUint16 {
		return nil, fmt.Errorf("too many nodes: %d", len(p.Nodes))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Nodes)))
	for _, n := range p.Nodes {
		if buf, err = appendStr(buf, n.Name); err != nil {
			return nil, err
		}
		if len(n.Tags) > math.MaxUint16 {
			return nil, fmt.Errorf("node %s: too many tags: %d", n.Name, len(n.Tags))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(n.Tags)))
		for _, tag := range n.Tags {
			if buf, err = appendStr(buf, tag); err != nil {
				return nil, err
			}
		}

		if flags&FlagLabels != 0 {
			labels := make([]string, 0, len(n.Labels))
			for label := range n.Labels {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			if len(labels) > math.MaxUint16 {
				return nil, fmt.Errorf("node %s: too many labels: %d", n.Name, len(labels))
			}
			buf = binary.BigEndian.AppendUint16(buf, uint16(len(labels)))
			for _, label := range labels {
				if buf, err = appendStr(buf, label); err != nil {
					return nil, err
				}
				buf = binary.BigEndian.AppendUint32(buf, uint32(n.Labels[label]))
			}
		}

		if uint64(len(n.Instructions)) > math.MaxUint32 {
			return nil, fmt.Errorf("node %s: too many instructions: %d", n.Name, len(n.Instructions))
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(n.Instructions)))
		for i, in := range n.Instructions {
			if len(in.Operands) > math.MaxUint8 {
				return nil, fmt.Errorf("node %s[%d]: too many operands: %d", n.Name, i, len(in.Operands))
			}
			buf = append(buf, byte(in.Op), byte(len(in.Operands)))
			for _, o := range in.Operands {
				buf = appendOperand(buf, o)
			}
		}
	}

	return buf, nil
}

func appendStr(buf []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("string too long for program format: %d bytes", len(s))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

func appendOperand(buf []byte, o Operand) []byte {
	buf = append(buf, byte(o.Kind))
	switch o.Kind {
	case OperandString:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(o.Str)))
		buf = append(buf, o.Str...)
	case OperandNumber:
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(o.Num))
	case OperandBool:
		if o.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// ReadProgram reads and deserializes a program from r.
func ReadProgram(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading program: %w", err)
	}
	return Deserialize(data)
}

// Deserialize decodes and validates a program. No partial program is
// returned on error.
func Deserialize(data []byte) (*Program, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: need at least 8 bytes, got %d", ErrMalformedProgram, len(data))
	}
	if string(data[0:4]) != string(ProgramMagic) {
		return nil, fmt.Errorf("%w: invalid magic: expected %q, got %q", ErrMalformedProgram, ProgramMagic, data[0:4])
	}

	p := &Program{Version: binary.BigEndian.Uint16(data[4:6])}
	if p.Version != ProgramVersion {
		return nil, fmt.Errorf("%w: version %d, this runtime reads version %d", ErrUnsupportedVersion, p.Version, ProgramVersion)
	}
	flags := ProgramFlags(binary.BigEndian.Uint16(data[6:8]))

	d := &decoder{data: data, pos: 8}
	p.Name = d.str("program name")

	initialCount := d.u16("initial value count")
	p.InitialValues = make(map[string]Operand, initialCount)
	for i := 0; i < int(initialCount) && d.err == nil; i++ {
		name := d.str("initial value name")
		p.InitialValues[name] = d.operand()
	}

	nodeCount := d.u16("node count")
	for i := 0; i < int(nodeCount) && d.err == nil; i++ {
		n := &Node{Name: d.str("node name")}

		tagCount := d.u16("tag count")
		for j := 0; j < int(tagCount) && d.err == nil; j++ {
			n.Tags = append(n.Tags, d.str("tag"))
		}

		if flags&FlagLabels != 0 {
			labelCount := d.u16("label count")
			if labelCount > 0 {
				n.Labels = make(map[string]int, labelCount)
			}
			for j := 0; j < int(labelCount) && d.err == nil; j++ {
				label := d.str("label")
				n.Labels[label] = int(d.u32("label offset"))
			}
		}

		instrCount := d.u32("instruction count")
		if d.err == nil && int(instrCount) > len(data)-d.pos {
			d.fail("instruction count %d exceeds remaining data", instrCount)
		}
		n.Instructions = make([]Instruction, 0, min(int(instrCount), 1<<16))
		for j := 0; j < int(instrCount) && d.err == nil; j++ {
			op := Opcode(d.u8("opcode"))
			if d.err == nil && !op.Valid() {
				d.fail("%s[%d]: invalid opcode 0x%02X", n.Name, j, byte(op))
				break
			}
			argc := d.u8("operand count")
			in := Instruction{Op: op}
			for k := 0; k < int(argc) && d.err == nil; k++ {
				in.Operands = append(in.Operands, d.operand())
			}
			n.Instructions = append(n.Instructions, in)
		}

		p.Nodes = append(p.Nodes, n)
	}

	if d.err != nil {
		return nil, d.err
	}
	if d.pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedProgram, len(data)-d.pos)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// decoder reads big-endian fields, latching the first error.
type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrMalformedProgram, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) take(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.data) {
		d.fail("unexpected end of data reading %s at pos %d", what, d.pos)
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) u8(what string) uint8 {
	if b := d.take(1, what); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16(what string) uint16 {
	if b := d.take(2, what); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32(what string) uint32 {
	if b := d.take(4, what); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) str(what string) string {
	n := d.u16(what + " length")
	return string(d.take(int(n), what))
}

func (d *decoder) operand() Operand {
	kind := OperandKind(d.u8("operand kind"))
	if d.err != nil {
		return Operand{}
	}
	switch kind {
	case OperandString:
		n := d.u32("string operand length")
		return StringOperand(string(d.take(int(n), "string operand")))
	case OperandNumber:
		if b := d.take(8, "number operand"); b != nil {
			return NumberOperand(math.Float64frombits(binary.BigEndian.Uint64(b)))
		}
	case OperandBool:
		return BoolOperand(d.u8("bool operand") != 0)
	default:
		d.fail("invalid operand kind %d at pos %d", kind, d.pos-1)
	}
	return Operand{}
}
