// Package attribute models typed product characteristic values and their
// canonical fingerprint.
package attribute

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind enumerates supported attribute data types.
type Kind string

const (
	// KindText is a free-form text attribute.
	KindText Kind = "text"
	// KindNumber is a numeric attribute usable in formulas.
	KindNumber Kind = "number"
	// KindSelect is a single choice from a fixed option list.
	KindSelect Kind = "select"
)

// Value is a tagged variant holding one attribute value.
type Value struct {
	kind Kind
	text string
	num  float64
}

// Text builds a text value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Number builds a numeric value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Select builds a select value holding the chosen option.
func Select(option string) Value {
	return Value{kind: KindSelect, text: option}
}

// Parse coerces a raw string into a Value of the given kind.
func Parse(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindText:
		return Text(raw), nil
	case KindSelect:
		return Select(raw), nil
	case KindNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Value{}, fmt.Errorf("attribute: %q is not a number", raw)
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("attribute: unknown kind %q", kind)
	}
}

// Kind reports the variant tag.
func (v Value) Kind() Kind {
	return v.kind
}

// Number returns the numeric payload. ok is false for non-numeric values.
func (v Value) Number() (f float64, ok bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// String renders the value for display and storage.
func (v Value) String() string {
	if v.kind == KindNumber {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.text
}

// canonical returns the byte form used by Fingerprint. Text is
// NFC-normalized so visually identical input hashes identically; numbers
// use the shortest round-trip representation so 2, 2.0 and 2.00 agree.
func (v Value) canonical() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	default:
		return norm.NFC.String(v.text)
	}
}
