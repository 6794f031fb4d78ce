package bytecode

import "fmt"

// Builder assembles a Program node by node. It is the programmatic
// counterpart of a compiler backend and is what hosts and tests use to
// produce programs without a source language.
type Builder struct {
	prog  *Program
	nodes []*NodeBuilder
}

// NewBuilder creates a builder for a program with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		prog: &Program{
			Version:       ProgramVersion,
			Name:          name,
			InitialValues: make(map[string]Operand),
		},
	}
}

// Initial declares the initial value of a story variable.
func (b *Builder) Initial(name string, value Operand) *Builder {
	b.prog.InitialValues[name] = value
	return b
}

// Node starts a new node and returns its builder.
func (b *Builder) Node(name string, tags ...string) *NodeBuilder {
	nb := &NodeBuilder{
		node: &Node{
			Name:         name,
			Instructions: make([]Instruction, 0, 16),
			Tags:         tags,
		},
		fixups: make(map[string][]int),
	}
	b.nodes = append(b.nodes, nb)
	b.prog.Nodes = append(b.prog.Nodes, nb.node)
	return nb
}

// Build resolves labels, validates the program and returns it.
func (b *Builder) Build() (*Program, error) {
	for _, nb := range b.nodes {
		for label, sites := range nb.fixups {
			if len(sites) > 0 {
				return nil, fmt.Errorf("%w: %s: undefined label %q", ErrMalformedProgram, nb.node.Name, label)
			}
		}
	}
	if err := b.prog.Validate(); err != nil {
		return nil, err
	}
	return b.prog, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Program {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

// NodeBuilder appends instructions to a single node.
type NodeBuilder struct {
	node   *Node
	fixups map[string][]int // label -> instruction indexes awaiting its offset
}

// Name returns the node name.
func (nb *NodeBuilder) Name() string {
	return nb.node.Name
}

// Emit appends an instruction and returns its offset.
func (nb *NodeBuilder) Emit(op Opcode, operands ...Operand) int {
	offset := len(nb.node.Instructions)
	nb.node.Instructions = append(nb.node.Instructions, Instruction{Op: op, Operands: operands})
	return offset
}

// CurrentOffset returns the offset the next instruction will occupy.
func (nb *NodeBuilder) CurrentOffset() int {
	return len(nb.node.Instructions)
}

// PushString emits PUSH_STRING.
func (nb *NodeBuilder) PushString(s string) int {
	return nb.Emit(OpPushString, StringOperand(s))
}

// PushNumber emits PUSH_NUMBER.
func (nb *NodeBuilder) PushNumber(n float64) int {
	return nb.Emit(OpPushNumber, NumberOperand(n))
}

// PushBool emits PUSH_BOOL.
func (nb *NodeBuilder) PushBool(b bool) int {
	return nb.Emit(OpPushBool, BoolOperand(b))
}

// Load emits LOAD_VAR.
func (nb *NodeBuilder) Load(name string) int {
	return nb.Emit(OpLoadVar, StringOperand(name))
}

// Store emits STORE_VAR followed by POP, consuming the stored value.
func (nb *NodeBuilder) Store(name string) int {
	offset := nb.Emit(OpStoreVar, StringOperand(name))
	nb.Emit(OpPop)
	return offset
}

// Line emits RUN_LINE with subs substitutions taken from the stack.
func (nb *NodeBuilder) Line(lineID string, subs int) int {
	return nb.Emit(OpRunLine, StringOperand(lineID), NumberOperand(float64(subs)))
}

// Option emits ADD_OPTION with an explicit destination.
func (nb *NodeBuilder) Option(lineID, destNode string, destOffset, subs int, hasCondition bool) int {
	return nb.Emit(OpAddOption,
		StringOperand(lineID),
		StringOperand(destNode),
		NumberOperand(float64(destOffset)),
		NumberOperand(float64(subs)),
		BoolOperand(hasCondition))
}

// OptionTo emits ADD_OPTION whose destination is a label in this node.
func (nb *NodeBuilder) OptionTo(lineID, label string, subs int, hasCondition bool) int {
	offset := nb.Option(lineID, nb.node.Name, 0, subs, hasCondition)
	nb.fixup(label, offset)
	return offset
}

// ShowOptions emits SHOW_OPTIONS.
func (nb *NodeBuilder) ShowOptions() int {
	return nb.Emit(OpShowOptions)
}

// Command emits RUN_COMMAND.
func (nb *NodeBuilder) Command(text string, subs int, wantsResult bool) int {
	return nb.Emit(OpRunCommand, StringOperand(text), NumberOperand(float64(subs)), BoolOperand(wantsResult))
}

// Call emits CALL_FUNC for a library function taking argc stack arguments.
func (nb *NodeBuilder) Call(name string, argc int) int {
	return nb.Emit(OpCallFunc, StringOperand(name), NumberOperand(float64(argc)))
}

// Goto emits GOTO_NODE.
func (nb *NodeBuilder) Goto(node string) int {
	return nb.Emit(OpGotoNode, StringOperand(node))
}

// CallNode emits CALL_NODE.
func (nb *NodeBuilder) CallNode(node string) int {
	return nb.Emit(OpCallNode, StringOperand(node))
}

// JumpTo emits a jump whose target is a label in this node.
func (nb *NodeBuilder) JumpTo(op Opcode, label string) int {
	offset := nb.EmitJump(op)
	nb.fixup(label, offset)
	return offset
}

// EmitJump emits a jump instruction with a placeholder target.
// Returns the offset of the instruction for later patching.
func (nb *NodeBuilder) EmitJump(op Opcode) int {
	return nb.Emit(op, NumberOperand(0))
}

// PatchJump patches a jump or option at offset to target the current position.
func (nb *NodeBuilder) PatchJump(offset int) {
	nb.PatchJumpTo(offset, nb.CurrentOffset())
}

// PatchJumpTo patches a jump or option at offset to target a specific offset.
func (nb *NodeBuilder) PatchJumpTo(offset, target int) {
	in := &nb.node.Instructions[offset]
	switch in.Op {
	case OpJump, OpJumpIfFalse:
		in.Operands[0] = NumberOperand(float64(target))
	case OpAddOption:
		in.Operands[2] = NumberOperand(float64(target))
	default:
		panic(fmt.Sprintf("bytecode: cannot patch %s", in.Op))
	}
}

// Label binds name to the current offset and patches any pending references.
func (nb *NodeBuilder) Label(name string) int {
	offset := nb.CurrentOffset()
	if nb.node.Labels == nil {
		nb.node.Labels = make(map[string]int)
	}
	nb.node.Labels[name] = offset
	for _, site := range nb.fixups[name] {
		nb.PatchJumpTo(site, offset)
	}
	delete(nb.fixups, name)
	return offset
}

func (nb *NodeBuilder) fixup(label string, site int) {
	if target, ok := nb.node.Labels[label]; ok {
		nb.PatchJumpTo(site, target)
		return
	}
	nb.fixups[label] = append(nb.fixups[label], site)
}
