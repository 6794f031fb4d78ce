// Package vm implements the dialogue virtual machine: a stack interpreter
// that executes a validated bytecode.Program one instruction at a time.
//
// The VM never talks to the host directly. Step returns an Outcome saying
// what the instruction produced, and the VM stays suspended after a choice
// set or a command until SelectOption or CompleteCommand resolves it. The
// runner package drives the VM to suspension points and dispatches commands
// through a CommandRegistry.
//
// # Values
//
// Value is a closed union of number, string and bool. Every operator
// either defines a result for a combination of kinds or fails with
// ErrTypeMismatch; there is no implicit conversion apart from string
// concatenation with ADD.
//
// # Variables
//
// Story variables live in a VariableStorage. A variable missing from
// storage falls back to the program's declared initial value and is
// otherwise an ErrUndefinedVariable. Node visit counts are ordinary
// variables under VisitPrefix.
package vm
