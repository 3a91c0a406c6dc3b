// Package microcode implements the per-channel opcode programs that define how a
// logical channel value is computed from raw ADC slots and other channels.
package microcode

import "strconv"

const (
	// MaxChannels is the number of logical channels an operand can address.
	MaxChannels = 16
	// MaxOps is the number of opcode slots in a channel program.
	MaxOps = 10

	opMask      = 0xf0
	operandMask = 0x0f
)

// Op is the operation part (high nibble) of an opcode byte.
type Op uint8

const (
	Brk          Op = 0x00 // terminate program
	Add          Op = 0x10 // add value of operand channel
	Sub          Op = 0x20 // subtract value of operand channel
	Mul          Op = 0x30 // multiply with value of operand channel
	Nop          Op = 0x40 // no operation
	GetADC       Op = 0x50 // load calibrated raw sample of operand slot
	SetTo        Op = 0x60 // zero the accumulator
	Filter       Op = 0x70 // low-pass toward operand channel value
	MulRatio     Op = 0x80 // multiply with ratio of operand channel
	MulSign      Op = 0x90 // multiply with stored sign of operand channel
	Abs          Op = 0xa0 // absolute value
	MulReactive  Op = 0xb0 // multiply with quadrature value of operand channel
	Neg          Op = 0xd0 // change sign
	PassNegative Op = 0xe0 // keep negative values, zero otherwise
	PassPositive Op = 0xf0 // keep positive values, zero otherwise
)

var opNames = map[Op]string{
	Brk:          "BRK",
	Add:          "ADD",
	Sub:          "SUB",
	Mul:          "MUL",
	Nop:          "NOP",
	GetADC:       "GET_ADC",
	SetTo:        "SET_TO",
	Filter:       "FILTER",
	MulRatio:     "MUL_RATIO",
	MulSign:      "MUL_SIGN",
	Abs:          "ABS",
	MulReactive:  "MUL_REACTIVE",
	Neg:          "NEG",
	PassNegative: "PASS_NEGATIVE",
	PassPositive: "PASS_POSITIVE",
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = op
	}
	return m
}()

// String returns the mnemonic of the operation, or "OP_xx" for undefined ones.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "OP_" + string(hexDigits[o>>4]) + "0"
}

// Valid reports whether o is a defined operation.
func (o Op) Valid() bool {
	_, ok := opNames[o]
	return ok
}

// HasOperand reports whether the operation reads an operand channel.
func (o Op) HasOperand() bool {
	switch o {
	case Add, Sub, Mul, GetADC, Filter, MulRatio, MulSign, MulReactive:
		return true
	}
	return false
}

// Opcode is one program byte: high nibble operation, low nibble operand.
type Opcode uint8

// New builds an opcode from an operation and an operand channel.
// The operand is truncated to a nibble.
func New(op Op, operand int) Opcode {
	return Opcode(uint8(op)&opMask | uint8(operand)&operandMask)
}

// Op returns the operation nibble.
func (c Opcode) Op() Op { return Op(uint8(c) & opMask) }

// Operand returns the operand channel (0..15).
func (c Opcode) Operand() int { return int(uint8(c) & operandMask) }

// String returns the mnemonic form, e.g. "GET_ADC3" or "ABS". Operations without
// an operand still print a nonzero operand nibble so the byte survives Parse.
func (c Opcode) String() string {
	op := c.Op()
	if !op.HasOperand() && c.Operand() == 0 {
		return op.String()
	}
	return op.String() + strconv.Itoa(c.Operand())
}

// Program is a fixed size channel program. Slots after the first BRK are ignored.
type Program [MaxOps]Opcode

// ProgramOf builds a program from opcodes, padding with BRK. Extra opcodes are dropped.
func ProgramOf(ops ...Opcode) Program {
	var p Program
	copy(p[:], ops)
	return p
}

// FromBytes converts a raw byte sequence into a program.
func FromBytes(b []byte) Program {
	var p Program
	for i := 0; i < len(b) && i < MaxOps; i++ {
		p[i] = Opcode(b[i])
	}
	return p
}

// Bytes returns the raw program bytes.
func (p Program) Bytes() []byte {
	b := make([]byte, MaxOps)
	for i, c := range p {
		b[i] = byte(c)
	}
	return b
}

// Len returns the number of slots before the first BRK.
func (p Program) Len() int {
	for i, c := range p {
		if c.Op() == Brk {
			return i
		}
	}
	return MaxOps
}

// Normalize returns p with every slot after the first BRK set to BRK.
func (p Program) Normalize() Program {
	n := p.Len()
	for i := n; i < MaxOps; i++ {
		p[i] = Opcode(Brk)
	}
	return p
}

// References reports whether any executed slot uses op.
func (p Program) References(op Op) bool {
	for i := 0; i < p.Len(); i++ {
		if p[i].Op() == op {
			return true
		}
	}
	return false
}

const hexDigits = "0123456789abcdef"

