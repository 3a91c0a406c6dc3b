package microcode

import (
	"testing"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Mnemonics(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Program
	}{
		{
			name: "voltage channel",
			in:   "GET_ADC0 MUL_RATIO0",
			want: ProgramOf(New(GetADC, 0), New(MulRatio, 0)),
		},
		{
			name: "comma separated, lower case",
			in:   "get_adc4,mul1, abs",
			want: ProgramOf(New(GetADC, 4), New(Mul, 1), New(Abs, 0)),
		},
		{
			name: "two digit operand",
			in:   "ADD12 SUB15",
			want: ProgramOf(New(Add, 12), New(Sub, 15)),
		},
		{
			name: "missing operand means channel 0",
			in:   "GET_ADC NEG",
			want: ProgramOf(New(GetADC, 0), New(Neg, 0)),
		},
		{
			name: "BRK terminates",
			in:   "GET_ADC2 BRK ADD3",
			want: ProgramOf(New(GetADC, 2)),
		},
		{
			name: "empty",
			in:   "  ",
			want: Program{},
		},
		{
			name: "ADD0 is a mnemonic, not hex",
			in:   "ADD0",
			want: ProgramOf(New(Add, 0)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Hex(t *testing.T) {
	got, err := Parse("5031b2")
	require.NoError(t, err)
	assert.Equal(t, ProgramOf(New(GetADC, 0), New(Mul, 1), New(MulReactive, 2)), got)

	got, err = Parse("5a0000ff")
	require.NoError(t, err)
	assert.Equal(t, ProgramOf(New(GetADC, 10)), got)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"unknown mnemonic", "GET_ADC0 SQRT1", ErrUnknownMnemonic},
		{"operand too large", "ADD16", ErrOperandRange},
		{"too many ops", "ADD1 ADD1 ADD1 ADD1 ADD1 ADD1 ADD1 ADD1 ADD1 ADD1 ADD1", ErrProgramTooLong},
		{"odd hex", "503", ErrHexProgram},
		{"too long hex", "5010101010101010101010", ErrProgramTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			require.Error(t, err)
			assert.True(t, merry.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestProgram_StringAndHex(t *testing.T) {
	p := ProgramOf(New(GetADC, 0), New(MulRatio, 0), New(Abs, 0), New(Add, 11))
	assert.Equal(t, "GET_ADC0 MUL_RATIO0 ABS ADD11", p.String())
	assert.Equal(t, "5080a01b", p.Hex())

	back, err := Parse(p.String())
	require.NoError(t, err)
	assert.Equal(t, p, back)

	back, err = Parse(p.Hex())
	require.NoError(t, err)
	assert.Equal(t, p, back)

	assert.Equal(t, "", Program{}.String())
	assert.Equal(t, "OP_c0", Op(0xc0).String())
}

func TestProgram_StringKeepsOperandBytes(t *testing.T) {
	p := FromBytes([]byte{0x50, 0xa5, 0xd3, 0x40})
	assert.Equal(t, "GET_ADC0 ABS5 NEG3 NOP", p.String())

	back, err := Parse(p.String())
	require.NoError(t, err)
	assert.Equal(t, p.Bytes(), back.Bytes())
}
