package changestream

import "fmt"

// MutationKind tags each change record. Only KindPut carries a full attribute set.
type MutationKind string

const (
	KindPut    MutationKind = "PUT"
	KindUpdate MutationKind = "UPDATE"
	KindDelete MutationKind = "DELETE"
	KindSystem MutationKind = "SYSTEM"
)

// ColumnType is the runtime type tag attached to every column value
type ColumnType int

const (
	TypeUnknown ColumnType = iota
	TypeString
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeBinary
)

var columnTypeNames = map[ColumnType]string{
	TypeUnknown: "UNKNOWN",
	TypeString:  "STRING",
	TypeInteger: "INTEGER",
	TypeFloat:   "DOUBLE",
	TypeBoolean: "BOOLEAN",
	TypeBinary:  "BINARY",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// ParseColumnType maps a type name back to its tag. Unrecognized names map to TypeUnknown.
func ParseColumnType(name string) ColumnType {
	for t, n := range columnTypeNames {
		if n == name {
			return t
		}
	}
	return TypeUnknown
}

// Value is a column value as delivered by the source, before decoding
type Value struct {
	Type ColumnType
	Raw  interface{}
}

// Column is a named, typed value. Used for both primary-key and attribute columns.
type Column struct {
	Name  string
	Value Value
}

// Record is a single row mutation
type Record struct {
	Kind       MutationKind
	PrimaryKey []Column
	Columns    []Column
	// Timestamp is the source commit time in epoch milliseconds, zero when unknown.
	Timestamp int64
}

// Batch is an ordered group of records for one table. Checkpoint is opaque to
// everything but the Source that produced it.
type Batch struct {
	Table      string
	Records    []Record
	Checkpoint interface{}
}

// Col is shorthand for building a column in fixtures and tools
func Col(name string, t ColumnType, raw interface{}) Column {
	return Column{Name: name, Value: Value{Type: t, Raw: raw}}
}

// StringCol builds a STRING column
func StringCol(name, v string) Column {
	return Col(name, TypeString, v)
}
