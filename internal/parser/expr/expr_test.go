package expr

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1", 1},
		{"2*0.5", 1},
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"-3 + 5", 2},
		{"--2", 2},
		{"2^3", 8},
		{"2**3**2", 512},
		{"-2^2", -4},
		{"1e-3 * 1000", 1},
		{".5 + .5", 1},
		{"10 / 4", 2.5},
		{"max(0.8, 1.2, 0.3)", 1.2},
		{"min(0.8, 1.2)", 0.8},
		{"abs(-1.5)", 1.5},
		{"sqrt(16)", 4},
		{"log2(1+3)", 2},
		{"math.log2(8)", 3},
		{"log(100, 10)", 2},
		{"log10(1000)", 3},
		{"exp(0)", 1},
		{"pow(3, 2)", 9},
		{"round(1.23456, 2)", 1.23},
		{"2*pi/pi", 2},
		{"math.pi - pi", 0},
		{"1.1 * max(1, 0.5)", 1.1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Eval(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestEvalRejects(t *testing.T) {
	tests := []string{
		"",
		"__import__('os')",
		"os.system(1)",
		"open(1)",
		"x + 1",
		"1 +",
		"(1 + 2",
		"1 2",
		"1 / 0",
		"sqrt(-1)",
		"log2(0)",
		"max()",
		"pow(1)",
		"abs(1, 2)",
		"1; 2",
		"'1'",
		"[1]",
		"a = 1",
		"1.2.3",
		"2 ** 5000",
		"exp(1000)",
		"lambda: 1",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := Eval(in)
			assert.Error(t, err)
		})
	}
}

func TestEvalDepthBounded(t *testing.T) {
	deep := strings.Repeat("(", maxDepth+2) + "1" + strings.Repeat(")", maxDepth+2)
	_, err := Eval(deep)
	assert.ErrorIs(t, err, ErrSyntax)

	ok := strings.Repeat("(", 5) + "1" + strings.Repeat(")", 5)
	v, err := Eval(ok)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestEvalLengthBounded(t *testing.T) {
	long := strings.Repeat("1+", maxInputLen) + "1"
	_, err := Eval(long)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestEvalResultFinite(t *testing.T) {
	v, err := Eval("1e308 * 10")
	assert.Error(t, err)
	assert.False(t, math.IsInf(v, 0))
}
