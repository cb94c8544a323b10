package schema

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ValueKind tags the contents of a Value.
type ValueKind uint8

const (
	NullValue ValueKind = iota
	IntValue
	StringValue
	StreamValue
)

// Value is a single cell of a table row. The zero Value is null.
type Value struct {
	kind ValueKind
	i    int
	s    string
}

func Null() Value              { return Value{} }
func Int(i int) Value          { return Value{kind: IntValue, i: i} }
func Str(s string) Value       { return Value{kind: StringValue, s: s} }
func Stream(path string) Value { return Value{kind: StreamValue, s: path} }

// OptStr returns a null Value for the empty string.
func OptStr(s string) Value {
	if s == "" {
		return Null()
	}
	return Str(s)
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == NullValue }

// AsInt returns the integer payload. It is 0 for non integer values.
func (v Value) AsInt() int { return v.i }

// AsString returns the string payload, or the source path of a stream.
func (v Value) AsString() string { return v.s }

func (v Value) String() string {
	switch v.kind {
	case NullValue:
		return "NULL"
	case IntValue:
		return strconv.Itoa(v.i)
	case StringValue:
		return strconv.Quote(v.s)
	case StreamValue:
		return "stream(" + v.s + ")"
	}
	return fmt.Sprintf("invalid(%d)", v.kind)
}

// Check verifies the value may be stored in the column.
func (v Value) Check(c Column) error {
	switch v.kind {
	case NullValue:
		if !c.Nullable {
			return errors.Errorf("column %s is NOT NULL", c.Name)
		}
	case IntValue:
		if !c.Integer() {
			return errors.Errorf("column %s is %s, got integer %d", c.Name, c.Kind, v.i)
		}
		if c.Kind == Short && (v.i < -32767 || v.i > 32767) {
			return errors.Errorf("column %s is INT, %d out of range", c.Name, v.i)
		}
	case StringValue:
		if c.Kind != Char {
			return errors.Errorf("column %s is %s, got string %q", c.Name, c.Kind, v.s)
		}
		if n := utf8.RuneCountInString(v.s); c.Size > 0 && n > c.Size {
			return errors.Errorf("column %s is limited to %d characters, got %d", c.Name, c.Size, n)
		}
	case StreamValue:
		if c.Kind != Object {
			return errors.Errorf("column %s is %s, got stream %s", c.Name, c.Kind, v.s)
		}
	default:
		return errors.Errorf("column %s: unknown value kind %d", c.Name, v.kind)
	}
	return nil
}
