// Package bytecode defines the compiled form of a dialogue story: a table of
// named nodes, each an ordered list of instructions with typed operands.
//
// The format is designed for:
//   - Index-based control flow (node table + instruction offset), so programs
//     contain no pointer graphs and serialize trivially
//   - Eager validation: opcodes, operand kinds, jump targets and node
//     references are all checked at load time
//   - Deterministic serialization using the "YSBC" format (Yarn Story ByteCode)
//
// # Architecture Overview
//
//   - Opcodes: stack-based instructions covering constants, story variables,
//     arithmetic, comparison, control flow, dialogue (lines, options,
//     commands) and node transfer
//
//   - Program: the node table plus declared initial variable values. A
//     validated Program is immutable and may be shared by many runs.
//
//   - Builder: assembles programs instruction by instruction with label
//     fixups. Compiling dialogue source is outside this module; hosts and tests
//     use the builder, or import an existing Yarn Spinner v2 ".yarnc" file
//     with ImportYarnc.
//
// # Stack Discipline
//
// Binary instructions evaluate left to right: the left operand is pushed
// first, so the right operand is on top of the stack. STORE_VAR and
// JUMP_IF_FALSE inspect the top of the stack without popping it, matching
// the Yarn Spinner instruction set; compiled code follows them with POP.
package bytecode
