package attribute

import (
	"encoding/json"
	"fmt"
)

type valueJSON struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...} so the stored
// form stays self-describing.
func (v Value) MarshalJSON() ([]byte, error) {
	var raw []byte
	var err error
	if v.kind == KindNumber {
		raw, err = json.Marshal(v.num)
	} else {
		raw, err = json.Marshal(v.text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Type: v.kind, Value: raw})
}

// UnmarshalJSON decodes the tagged form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case KindNumber:
		var f float64
		if err := json.Unmarshal(wire.Value, &f); err != nil {
			return fmt.Errorf("attribute: number payload: %w", err)
		}
		*v = Number(f)
	case KindText, KindSelect:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("attribute: text payload: %w", err)
		}
		if wire.Type == KindText {
			*v = Text(s)
		} else {
			*v = Select(s)
		}
	default:
		return fmt.Errorf("attribute: unknown kind %q", wire.Type)
	}
	return nil
}
