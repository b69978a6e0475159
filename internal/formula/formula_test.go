package formula

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		src  string
		vars map[string]float64
		want float64
	}{
		{"a+b*2", map[string]float64{"a": 1, "b": 3}, 7},
		{"(a+b)*2", map[string]float64{"a": 1, "b": 3}, 8},
		{"a-b-c", map[string]float64{"a": 10, "b": 3, "c": 2}, 5},
		{"a/b/c", map[string]float64{"a": 12, "b": 3, "c": 2}, 2},
		{"-a", map[string]float64{"a": 4}, -4},
		{"--a", map[string]float64{"a": 4}, 4},
		{"  length * width *height ", map[string]float64{"length": 2, "width": 3, "height": 4}, 24},
		{"0.5*thickness", map[string]float64{"thickness": 4}, 2},
		{"3.14", nil, 3.14},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.src, tc.vars)
		require.NoError(t, err, tc.src)
		require.InDelta(t, tc.want, got, 1e-9, tc.src)
	}
}

func TestEvaluateDivisionByZero(t *testing.T) {
	_, err := Evaluate("a/b", map[string]float64{"a": 1, "b": 0})
	var fe *Error
	require.ErrorAs(t, err, &fe)
	require.Contains(t, fe.Msg, "division by zero")
}

func TestEvaluateUnknownVariable(t *testing.T) {
	_, err := Evaluate("a+c", map[string]float64{"a": 1, "b": 2})
	var fe *Error
	require.ErrorAs(t, err, &fe)
	require.Contains(t, fe.Msg, `"c"`)
}

func TestEvaluateParseErrors(t *testing.T) {
	for _, src := range []string{"", "a+", "(a", "a)", "1..2", "a b", "*a", "a+%", "."} {
		_, err := Evaluate(src, map[string]float64{"a": 1, "b": 1})
		require.Error(t, err, src)
		var fe *Error
		require.ErrorAs(t, err, &fe, src)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("length*width/1000"))
	require.NoError(t, Validate("a/b"))
	require.Error(t, Validate("length*"))
	require.Error(t, Validate("(a"))
}

func TestVars(t *testing.T) {
	vars, err := Vars("length*width + length*height")
	require.NoError(t, err)
	require.Equal(t, []string{"length", "width", "height"}, vars)

	vars, err = Vars("2+2")
	require.NoError(t, err)
	require.Empty(t, vars)
}
