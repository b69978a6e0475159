package attribute

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintOrderIndependent(t *testing.T) {
	a := map[string]Value{"length": Number(1), "grade": Text("A")}
	b := map[string]Value{"grade": Text("A"), "length": Number(1)}
	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintDistinguishesValues(t *testing.T) {
	a := map[string]Value{"length": Number(1)}
	b := map[string]Value{"length": Number(2)}
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintDistinguishesKeys(t *testing.T) {
	a := map[string]Value{"length": Number(1)}
	b := map[string]Value{"width": Number(1)}
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintNumericRepresentation(t *testing.T) {
	a, err := Parse(KindNumber, "2")
	require.NoError(t, err)
	b, err := Parse(KindNumber, "2.00")
	require.NoError(t, err)
	require.Equal(t,
		Fingerprint(map[string]Value{"size": a}),
		Fingerprint(map[string]Value{"size": b}))
}

func TestFingerprintKindMatters(t *testing.T) {
	a := map[string]Value{"grade": Text("1")}
	b := map[string]Value{"grade": Select("1")}
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintEmptyMap(t *testing.T) {
	got := Fingerprint(map[string]Value{})
	require.Len(t, got, 64)
	require.Equal(t, got, Fingerprint(nil))
}

func TestFingerprintSeparatorInjection(t *testing.T) {
	// "ab"+"c" must not collide with "a"+"bc" across key/value boundary.
	a := map[string]Value{"ab": Text("c")}
	b := map[string]Value{"a": Text("bc")}
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestParseNumberRejectsText(t *testing.T) {
	_, err := Parse(KindNumber, "tall")
	require.Error(t, err)
}
