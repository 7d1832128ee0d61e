// Package avm implements the bytecode machine that virtualized functions run on.
//
// The machine is a hybrid: an operand stack for transient values, a register
// file for named bindings and a scratch arena for allocations. Programs are
// straight-line; there is no branching instruction, so an interpreter call is a
// single linear pass that ends at the first Ret.
//
// # Architecture Overview
//
//   - Value: a closed tagged union over the primitive kinds the interpreter
//     manipulates (bool, 8/16/32/64-bit integers, 32/64-bit floats, pointers).
//     Values are immutable and copied, never shared.
//
//   - Instruction: a closed sum type with one struct per opcode. Every opcode
//     has a fixed stack effect recorded in the opcode info table.
//
//   - Program: an ordered instruction list plus the register count needed to
//     run it. Programs serialize to the compact "AVMB" binary format for
//     embedding, or to canonical CBOR for transport and storage.
//
//   - Interpreter: Execute runs a Program against a caller-provided register
//     file. The operand stack and arena are private to the call, which makes
//     recursive and concurrent invocations safe.
//
// # Errors
//
// Building an invalid instruction (an Add with both overflow flags) fails with
// a ConstructionError. Faults during execution (stack underflow, type
// mismatch, division by zero, bad register or arena address) halt the program
// with a RuntimeError; the interpreter never panics on malformed input.
package avm
