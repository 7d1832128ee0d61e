package avm

import "fmt"

// Opcode identifies a bytecode instruction in the binary encoding.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements

	// ========================================================================
	// Literals (0x10-0x1F)
	// ========================================================================

	OpPush Opcode = 0x10 // Push literal: OpPush <kind:u8> <bits:u64>

	// ========================================================================
	// Registers (0x20-0x2F)
	// ========================================================================

	OpPopToReg    Opcode = 0x20 // Pop into register: OpPopToReg <reg:u32>
	OpPushFromReg Opcode = 0x21 // Push register copy: OpPushFromReg <reg:u32>
	OpClearReg    Opcode = 0x22 // Zero a register: OpClearReg <reg:u32>

	// ========================================================================
	// Memory (0x30-0x3F)
	// ========================================================================

	OpAlloca     Opcode = 0x30 // Reserve slots: OpAlloca <size:u32>
	OpAlloca2    Opcode = 0x31 // Reserve slots, size from stack
	OpStoreValue Opcode = 0x32 // Pop ptr and value, write value at ptr
	OpLoadValue  Opcode = 0x33 // Pop ptr, push value: OpLoadValue <kind:u8>
	OpStore      Opcode = 0x34 // Pop value into global slot: OpStore <addr:u32>
	OpLoad       Opcode = 0x35 // Push global slot: OpLoad <addr:u32> <kind:u8>

	// ========================================================================
	// Arithmetic (0x40-0x4F)
	// ========================================================================

	OpAdd Opcode = 0x40 // Pop two, push sum: OpAdd <flags:u8>
	OpSub Opcode = 0x41 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x42 // Pop two, push product
	OpDiv Opcode = 0x43 // Pop two, push quotient: OpDiv <unsigned:u8>
	OpRem Opcode = 0x44 // Pop two, push remainder: OpRem <unsigned:u8>

	// ========================================================================
	// Bitwise (0x50-0x5F)
	// ========================================================================

	OpAnd  Opcode = 0x50
	OpOr   Opcode = 0x51
	OpXor  Opcode = 0x52
	OpShl  Opcode = 0x53
	OpLShr Opcode = 0x54
	OpAShr Opcode = 0x55

	// ========================================================================
	// Comparison and selection (0x60-0x6F)
	// ========================================================================

	OpICmp   Opcode = 0x60 // Pop two ints, push bool: OpICmp <pred:u8>
	OpFCmp   Opcode = 0x61 // Pop two floats, push bool: OpFCmp <pred:u8>
	OpSelect Opcode = 0x62 // Pop cond, a, b; push cond ? a : b

	// ========================================================================
	// Conversion (0x70-0x7F)
	// ========================================================================

	OpCast Opcode = 0x70 // Convert TOS: OpCast <op:u8> <kind:u8>

	// ========================================================================
	// Guards (0x80-0x8F)
	// ========================================================================

	OpTypeCheckInt Opcode = 0x80 // Verify TOS width: OpTypeCheckInt <width:u8>

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCall Opcode = 0x90 // Call named function: OpCall <argc:u8> <result:u8> <name_len:u16> <name>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpRet Opcode = 0xF0 // Return top of stack and halt
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack (-1 = variable)
	OperandLen int    // Number of operand bytes following the opcode (-1 = variable)
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},

	// Literals
	OpPush: {"PUSH", 0, 1, 9},

	// Registers
	OpPopToReg:    {"POP_TO_REG", 1, 0, 4},
	OpPushFromReg: {"PUSH_FROM_REG", 0, 1, 4},
	OpClearReg:    {"CLEAR_REG", 0, 0, 4},

	// Memory
	OpAlloca:     {"ALLOCA", 0, 1, 4},
	OpAlloca2:    {"ALLOCA2", 1, 1, 0},
	OpStoreValue: {"STORE_VALUE", 2, 0, 0},
	OpLoadValue:  {"LOAD_VALUE", 1, 1, 1},
	OpStore:      {"STORE", 1, 0, 4},
	OpLoad:       {"LOAD", 0, 1, 5},

	// Arithmetic
	OpAdd: {"ADD", 2, 1, 1},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 1},
	OpRem: {"REM", 2, 1, 1},

	// Bitwise
	OpAnd:  {"AND", 2, 1, 0},
	OpOr:   {"OR", 2, 1, 0},
	OpXor:  {"XOR", 2, 1, 0},
	OpShl:  {"SHL", 2, 1, 0},
	OpLShr: {"LSHR", 2, 1, 0},
	OpAShr: {"ASHR", 2, 1, 0},

	// Comparison
	OpICmp:   {"ICMP", 2, 1, 1},
	OpFCmp:   {"FCMP", 2, 1, 1},
	OpSelect: {"SELECT", 3, 1, 0},

	// Conversion
	OpCast: {"CAST", 1, 1, 2},

	// Guards
	OpTypeCheckInt: {"TYPE_CHECK_INT", 1, 1, 1},

	// Calls
	OpCall: {"CALL", -1, -1, -1},

	// Return
	OpRet: {"RET", 1, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Known reports whether op is part of the instruction set.
func (op Opcode) Known() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsArithmetic returns true for the binary arithmetic and bitwise opcodes.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAdd && op <= OpAShr
}

// IsCommutative returns true if swapping the two operands preserves the result.
func (op Opcode) IsCommutative() bool {
	switch op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor:
		return true
	}
	return false
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
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
