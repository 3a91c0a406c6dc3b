package microcode

import (
	"github.com/ansel1/merry"
	"github.com/chewxy/math32"
)

// FilterFactor is the step of the FILTER opcode toward its operand value.
const FilterFactor = 0.875

var (
	ErrEmptyProgram = merry.New("empty program")
	ErrBadOpcode    = merry.New("undefined opcode")
	ErrNoRawChannel = merry.New("raw channel not sampled")
)

// Env gives the interpreter access to the sample tick being evaluated.
type Env interface {
	// Raw returns the phase shifted, DC corrected and ratio/offset calibrated raw
	// sample of slot ch. ok is false when the slot is not part of the frame.
	Raw(ch int) (v float32, ok bool)
	// Value returns the current value of channel ch: this tick for channels that were
	// already evaluated, the previous tick otherwise.
	Value(ch int) float32
	// Ratio returns the calibration ratio of channel ch.
	Ratio(ch int) float32
	// Sign returns the stored sign register of channel ch.
	Sign(ch int) float32
	// Quadrature returns the value of channel ch a quarter network period ago.
	Quadrature(ch int) float32
}

// Exec runs p against env and returns the accumulator. Any error yields 0.
func Exec(p Program, env Env) (float32, error) {
	if p[0].Op() == Brk {
		return 0, ErrEmptyProgram
	}

	var acc float32
	for _, c := range p {
		op, n := c.Op(), c.Operand()
		switch op {
		case Brk:
			return acc, nil
		case Nop:
		case Add:
			acc += env.Value(n)
		case Sub:
			acc -= env.Value(n)
		case Mul:
			acc *= env.Value(n)
		case GetADC:
			v, ok := env.Raw(n)
			if !ok {
				return 0, merry.Appendf(ErrNoRawChannel, "slot %d", n)
			}
			acc = v
		case SetTo:
			acc = 0
		case Filter:
			acc += (env.Value(n) - acc) * FilterFactor
		case MulRatio:
			acc *= env.Ratio(n)
		case MulSign:
			acc *= env.Sign(n)
		case Abs:
			acc = math32.Abs(acc)
		case MulReactive:
			acc *= env.Quadrature(n)
		case Neg:
			acc = -acc
		case PassNegative:
			if acc > 0 {
				acc = 0
			}
		case PassPositive:
			if acc < 0 {
				acc = 0
			}
		default:
			return 0, merry.Appendf(ErrBadOpcode, "0x%02x", uint8(c))
		}
	}
	return acc, nil
}
