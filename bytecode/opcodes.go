package bytecode

import "fmt"

// Opcode represents a dialogue bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop Opcode = 0x00 // No operation
	OpPop Opcode = 0x01 // Pop top of stack
	OpDup Opcode = 0x02 // Duplicate top of stack

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpPushString Opcode = 0x10 // Push string: PUSH_STRING <s>
	OpPushNumber Opcode = 0x11 // Push number: PUSH_NUMBER <n>
	OpPushBool   Opcode = 0x12 // Push bool: PUSH_BOOL <b>

	// ========================================================================
	// Story variables (0x20-0x2F)
	// ========================================================================

	OpLoadVar  Opcode = 0x20 // Push variable: LOAD_VAR <name>
	OpStoreVar Opcode = 0x21 // Store top of stack without popping: STORE_VAR <name>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum or concatenation
	OpSub Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient
	OpMod Opcode = 0x54 // Pop two, push remainder
	OpNeg Opcode = 0x55 // Negate top of stack

	// ========================================================================
	// Comparison (0x60-0x67)
	// ========================================================================

	OpEq Opcode = 0x60 // Pop two, push true if equal
	OpNe Opcode = 0x61 // Pop two, push true if not equal
	OpLt Opcode = 0x62 // Pop two, push true if a < b
	OpLe Opcode = 0x63 // Pop two, push true if a <= b
	OpGt Opcode = 0x64 // Pop two, push true if a > b
	OpGe Opcode = 0x65 // Pop two, push true if a >= b

	// ========================================================================
	// Logical operations (0x68-0x6F)
	// ========================================================================

	OpNot Opcode = 0x68 // Logical NOT
	OpAnd Opcode = 0x69 // Logical AND
	OpOr  Opcode = 0x6A // Logical OR
	OpXor Opcode = 0x6B // Logical XOR

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump        Opcode = 0x80 // Unconditional jump: JUMP <offset>
	OpJumpIfFalse Opcode = 0x81 // Jump if top is false, without popping: JUMP_IF_FALSE <offset>

	// ========================================================================
	// Dialogue (0x90-0x9F)
	// ========================================================================

	OpRunLine     Opcode = 0x90 // Emit a line: RUN_LINE <lineID> <subs>
	OpAddOption   Opcode = 0x91 // Accumulate an option: ADD_OPTION <lineID> <node> <offset> <subs> <hasCondition>
	OpShowOptions Opcode = 0x92 // Present accumulated options
	OpRunCommand  Opcode = 0x93 // Invoke a host command: RUN_COMMAND <text> <subs> <wantsResult>

	// ========================================================================
	// Calls and node transfer (0xA0-0xAF)
	// ========================================================================

	OpCallFunc Opcode = 0xA0 // Call library function: CALL_FUNC <name> <argc>
	OpGotoNode Opcode = 0xA1 // Transfer to node start: GOTO_NODE <node>
	OpCallNode Opcode = 0xA2 // Call node, pushing a return address: CALL_NODE <node>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Return to caller node, or end the program
	OpStop   Opcode = 0xF1 // End the program
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string        // Human-readable name
	StackPop  int           // How many values popped from stack (-1 = variable)
	StackPush int           // How many values pushed to stack
	Operands  []OperandKind // Operand kinds, in order
}

var (
	noOperands = []OperandKind(nil)
	oneString  = []OperandKind{OperandString}
	oneNumber  = []OperandKind{OperandNumber}
	oneBool    = []OperandKind{OperandBool}
)

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop: {"NOP", 0, 0, noOperands},
	OpPop: {"POP", 1, 0, noOperands},
	OpDup: {"DUP", 1, 2, noOperands},

	// Constants
	OpPushString: {"PUSH_STRING", 0, 1, oneString},
	OpPushNumber: {"PUSH_NUMBER", 0, 1, oneNumber},
	OpPushBool:   {"PUSH_BOOL", 0, 1, oneBool},

	// Variables
	OpLoadVar:  {"LOAD_VAR", 0, 1, oneString},
	OpStoreVar: {"STORE_VAR", 0, 0, oneString},

	// Arithmetic
	OpAdd: {"ADD", 2, 1, noOperands},
	OpSub: {"SUB", 2, 1, noOperands},
	OpMul: {"MUL", 2, 1, noOperands},
	OpDiv: {"DIV", 2, 1, noOperands},
	OpMod: {"MOD", 2, 1, noOperands},
	OpNeg: {"NEG", 1, 1, noOperands},

	// Comparison
	OpEq: {"EQ", 2, 1, noOperands},
	OpNe: {"NE", 2, 1, noOperands},
	OpLt: {"LT", 2, 1, noOperands},
	OpLe: {"LE", 2, 1, noOperands},
	OpGt: {"GT", 2, 1, noOperands},
	OpGe: {"GE", 2, 1, noOperands},

	// Logical
	OpNot: {"NOT", 1, 1, noOperands},
	OpAnd: {"AND", 2, 1, noOperands},
	OpOr:  {"OR", 2, 1, noOperands},
	OpXor: {"XOR", 2, 1, noOperands},

	// Control flow
	OpJump:        {"JUMP", 0, 0, oneNumber},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 0, 0, oneNumber},

	// Dialogue
	OpRunLine:     {"RUN_LINE", -1, 0, []OperandKind{OperandString, OperandNumber}},
	OpAddOption:   {"ADD_OPTION", -1, 0, []OperandKind{OperandString, OperandString, OperandNumber, OperandNumber, OperandBool}},
	OpShowOptions: {"SHOW_OPTIONS", 0, 0, noOperands},
	OpRunCommand:  {"RUN_COMMAND", -1, -1, []OperandKind{OperandString, OperandNumber, OperandBool}},

	// Calls
	OpCallFunc: {"CALL_FUNC", -1, 1, []OperandKind{OperandString, OperandNumber}},
	OpGotoNode: {"GOTO_NODE", 0, 0, oneString},
	OpCallNode: {"CALL_NODE", 0, 0, oneString},

	// Return
	OpReturn: {"RETURN", 0, 0, noOperands},
	OpStop:   {"STOP", 0, 0, noOperands},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsJump returns true if this opcode is an in-node jump.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse
}

// IsNodeTransfer returns true if this opcode moves execution to another node.
func (op Opcode) IsNodeTransfer() bool {
	return op == OpGotoNode || op == OpCallNode
}

// IsTerminator returns true if this opcode leaves the current node.
func (op Opcode) IsTerminator() bool {
	return op == OpReturn || op == OpStop || op == OpGotoNode
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
