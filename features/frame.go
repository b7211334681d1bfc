// Package features turns a landmark set into the fixed-schema feature frame
// that downstream scoring consumes.
package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Unavailable is the sentinel written for any feature that cannot be computed.
const Unavailable = "N/A"

type kind uint8

const (
	kindNA kind = iota
	kindPosition
	kindNumber
)

// Value is one entry of a feature frame: a projected position, a scalar, or
// the Unavailable sentinel. The zero Value is Unavailable.
type Value struct {
	kind kind
	X, Y float64
	N    float64
}

// NA is the unavailable value.
var NA = Value{}

// Position returns a projected (x, y) value.
func Position(x, y float64) Value { return Value{kind: kindPosition, X: x, Y: y} }

// Number returns a scalar value. Non-finite numbers collapse to NA so the frame
// always stays JSON-encodable.
func Number(n float64) Value {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return NA
	}
	return Value{kind: kindNumber, N: n}
}

func (v Value) Available() bool  { return v.kind != kindNA }
func (v Value) IsPosition() bool { return v.kind == kindPosition }
func (v Value) IsNumber() bool   { return v.kind == kindNumber }

func (v Value) String() string {
	switch v.kind {
	case kindPosition:
		return fmt.Sprintf("%.1f,%.1f", v.X, v.Y)
	case kindNumber:
		return fmt.Sprintf("%.2f", v.N)
	default:
		return Unavailable
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindPosition:
		return json.Marshal([2]float64{v.X, v.Y})
	case kindNumber:
		return json.Marshal(v.N)
	default:
		return json.Marshal(Unavailable)
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s != Unavailable {
			return fmt.Errorf("features: unexpected string value %q", s)
		}
		*v = NA
	case len(b) > 0 && b[0] == '[':
		var xy [2]float64
		if err := json.Unmarshal(b, &xy); err != nil {
			return err
		}
		*v = Position(xy[0], xy[1])
	default:
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*v = Number(n)
	}
	return nil
}

// Frame is the per-frame feature record. Header and Data are parallel arrays;
// this positional pairing is the exchange format, not a map.
type Frame struct {
	Header []string `json:"header"`
	Data   []Value  `json:"data"`
}

// Get returns the value recorded under name.
func (f Frame) Get(name string) (Value, bool) {
	for i, h := range f.Header {
		if h == name && i < len(f.Data) {
			return f.Data[i], true
		}
	}
	return NA, false
}

func (f *Frame) add(name string, v Value) {
	f.Header = append(f.Header, name)
	f.Data = append(f.Data, v)
}
