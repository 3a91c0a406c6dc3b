package microcode

import (
	"strconv"
	"strings"

	"github.com/ansel1/merry"
)

var (
	ErrUnknownMnemonic = merry.New("unknown opcode mnemonic")
	ErrOperandRange    = merry.New("operand out of range")
	ErrProgramTooLong  = merry.New("program exceeds opcode slots")
	ErrHexProgram      = merry.New("malformed hex program")
)

// String returns the mnemonic form of the program, e.g. "GET_ADC0 MUL_RATIO0".
// An empty program yields "".
func (p Program) String() string {
	n := p.Len()
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, p[i].String())
	}
	return strings.Join(parts, " ")
}

// Hex returns the compact two-digits-per-slot form used by the web configuration
// page: operation nibble followed by operand nibble, up to the first BRK.
func (p Program) Hex() string {
	var sb strings.Builder
	for i := 0; i < p.Len(); i++ {
		sb.WriteByte(hexDigits[p[i].Op()>>4])
		sb.WriteByte(hexDigits[p[i].Operand()])
	}
	return sb.String()
}

// Parse decodes a program from its mnemonic form ("GET_ADC0 MUL_RATIO0") or its
// compact hex form ("5080"). Tokens may be separated by spaces or commas. A missing
// operand suffix means channel 0. BRK tokens terminate the program.
func Parse(s string) (Program, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Program{}, nil
	}
	p, err := parseMnemonics(s)
	if err != nil && merry.Is(err, ErrUnknownMnemonic) && isHexProgram(s) {
		return parseHex(s)
	}
	return p, err
}

func parseMnemonics(s string) (Program, error) {
	var p Program
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	n := 0
	for _, tok := range fields {
		c, err := parseToken(tok)
		if err != nil {
			return Program{}, err
		}
		if c.Op() == Brk {
			break
		}
		if n == MaxOps {
			return Program{}, merry.Prependf(ErrProgramTooLong, "%q", s)
		}
		p[n] = c
		n++
	}
	return p, nil
}

func parseToken(tok string) (Opcode, error) {
	tok = strings.ToUpper(tok)
	name := strings.TrimRight(tok, "0123456789")
	op, ok := opByName[name]
	if !ok {
		return 0, merry.Prependf(ErrUnknownMnemonic, "%q", tok)
	}
	operand := 0
	if digits := tok[len(name):]; digits != "" {
		v, err := strconv.Atoi(digits)
		if err != nil || v >= MaxChannels {
			return 0, merry.Prependf(ErrOperandRange, "%q", tok)
		}
		operand = v
	}
	return New(op, operand), nil
}

func isHexProgram(s string) bool {
	for _, r := range strings.ToLower(s) {
		if !strings.ContainsRune(hexDigits, r) {
			return false
		}
	}
	return true
}

func parseHex(s string) (Program, error) {
	if len(s)%2 != 0 {
		return Program{}, merry.Prependf(ErrHexProgram, "%q: odd length", s)
	}
	var p Program
	for i := 0; i < len(s); i += 2 {
		v, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			return Program{}, merry.Prependf(ErrHexProgram, "%q", s)
		}
		c := Opcode(v)
		if c.Op() == Brk {
			break
		}
		if i/2 == MaxOps {
			return Program{}, merry.Prependf(ErrProgramTooLong, "%q", s)
		}
		p[i/2] = c
	}
	return p, nil
}
