package schema

import (
	"fmt"
	"strings"
)

// Kind is the storage class of a column, as the MSI SQL dialect
// understands it.
type Kind int

const (
	Char   Kind = iota // CHAR(n), CHAR(0) is an unbounded string
	Short              // INT, 16 bit
	Long               // LONG, 32 bit
	Object             // OBJECT, a binary stream
)

func (k Kind) String() string {
	switch k {
	case Char:
		return "CHAR"
	case Short:
		return "INT"
	case Long:
		return "LONG"
	case Object:
		return "OBJECT"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Column describes a single column of a table.
type Column struct {
	Name        string
	Kind        Kind
	Size        int // only meaningful for Char. 0 means no declared length.
	Nullable    bool
	Localizable bool
	Key         bool
}

// Integer reports whether the column stores integers.
func (c Column) Integer() bool {
	return c.Kind == Short || c.Kind == Long
}

// IDTType returns the column definition code used by the IDT text
// archive format. Lower case means NOT NULL.
//
// https://learn.microsoft.com/en-us/windows/win32/msi/column-definition-format
func (c Column) IDTType() string {
	var code string
	switch c.Kind {
	case Char:
		code = "s"
		if c.Localizable {
			code = "l"
		}
		code = fmt.Sprintf("%s%d", code, c.Size)
	case Short:
		code = "i2"
	case Long:
		code = "i4"
	case Object:
		code = "v0"
	}
	if c.Nullable {
		code = strings.ToUpper(code)
	}
	return code
}

// column flags, only used to keep the registry readable.
const (
	notNull = 1 << iota
	localizable
	key
)

func newColumn(name string, kind Kind, size int, flags int) Column {
	return Column{
		Name:        name,
		Kind:        kind,
		Size:        size,
		Nullable:    flags&notNull == 0,
		Localizable: flags&localizable != 0,
		Key:         flags&key != 0,
	}
}

func char(name string, size int, flags int) Column { return newColumn(name, Char, size, flags) }
func short(name string, flags int) Column          { return newColumn(name, Short, 0, flags) }
func long(name string, flags int) Column           { return newColumn(name, Long, 0, flags) }
func object(name string, flags int) Column         { return newColumn(name, Object, 0, flags) }
