package target

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ErrTimestampRange is returned for timestamps outside [0, 2^128).
var ErrTimestampRange = errors.New("timestamp out of range for unsigned 128-bit integer")

const timestampBits = 128

// Timestamp is an unsigned 128-bit millisecond count since the Unix epoch.
// The zero value is 0. Values are immutable; accessors return copies.
type Timestamp struct {
	v *big.Int
}

// NewTimestamp returns a Timestamp holding ms.
func NewTimestamp(ms uint64) Timestamp {
	return Timestamp{v: new(big.Int).SetUint64(ms)}
}

// ParseTimestamp parses a base-10 unsigned integer.
func ParseTimestamp(s string) (Timestamp, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: not an integer", s)
	}
	if n.Sign() < 0 || n.BitLen() > timestampBits {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, ErrTimestampRange)
	}
	return Timestamp{v: n}, nil
}

func (t Timestamp) value() *big.Int {
	if t.v == nil {
		return new(big.Int)
	}
	return t.v
}

// Big returns a copy of the underlying value.
func (t Timestamp) Big() *big.Int {
	return new(big.Int).Set(t.value())
}

// Uint64 returns the value and whether it fits in 64 bits.
func (t Timestamp) Uint64() (uint64, bool) {
	n := t.value()
	return n.Uint64(), n.IsUint64()
}

// Time interprets the value as milliseconds since the Unix epoch. Values
// beyond the int64 range report ok=false.
func (t Timestamp) Time() (time.Time, bool) {
	n := t.value()
	if !n.IsInt64() {
		return time.Time{}, false
	}
	return time.UnixMilli(n.Int64()).UTC(), true
}

// Equal reports whether both timestamps hold the same value.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.value().Cmp(other.value()) == 0
}

func (t Timestamp) String() string {
	return t.value().String()
}

// MarshalJSON encodes the value as a bare JSON integer.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(t.value().String()), nil
}

// UnmarshalJSON accepts a bare JSON integer. Quoted strings, fractions,
// exponents and negative values are rejected.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '"' {
		return fmt.Errorf("timestamp must be a JSON integer, got %s", data)
	}
	parsed, err := ParseTimestamp(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
