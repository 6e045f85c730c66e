// Package value holds the display-ready value model produced from
// PostgreSQL result columns.
package value

// Kind identifies a Value variant.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindSmallInt
	KindInt
	KindBigInt
	KindFloat
	KindDouble
	KindNumeric
	KindText
	KindBytea
	KindJSON
	KindUUID
	KindDate
	KindTime
	KindTimestamp
	KindTimestampTZ
	KindInterval
	KindArray
	KindPoint
	KindRange
	KindComposite
	KindUnknown
)

var kindNames = [...]string{
	KindNull:        "null",
	KindBool:        "bool",
	KindSmallInt:    "smallint",
	KindInt:         "int",
	KindBigInt:      "bigint",
	KindFloat:       "float",
	KindDouble:      "double",
	KindNumeric:     "numeric",
	KindText:        "text",
	KindBytea:       "bytea",
	KindJSON:        "json",
	KindUUID:        "uuid",
	KindDate:        "date",
	KindTime:        "time",
	KindTimestamp:   "timestamp",
	KindTimestampTZ: "timestamptz",
	KindInterval:    "interval",
	KindArray:       "array",
	KindPoint:       "point",
	KindRange:       "range",
	KindComposite:   "composite",
	KindUnknown:     "unknown",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "invalid"
	}
	return kindNames[k]
}

// Value is a closed union; only the types in this package implement it.
type Value interface {
	Kind() Kind
	valueNode()
}

type (
	Null     struct{}
	Bool     bool
	SmallInt int16
	Int      int32
	BigInt   int64
	Float    float32
	Double   float64

	// Numeric is the exact decimal text of a numeric value.
	Numeric string
	Text    string
	Bytea   []byte

	// JSON holds the decoded document (maps, slices, json.Number, ...).
	JSON struct{ Doc any }

	UUID        string
	Date        string
	Time        string
	Timestamp   string
	TimestampTZ string

	// Interval is an ISO 8601 duration, e.g. P1Y2M3DT4H5M6.5S.
	Interval string
)

// Array is an array of element values. A multidimensional array holds one
// nested Array per element of its outer dimension.
type Array struct {
	ElemType string
	Elems    []Value
}

type Point struct {
	X, Y float64
}

// Range is a range value. A nil bound is unbounded.
type Range struct {
	Lower          Value
	Upper          Value
	LowerInclusive bool
	UpperInclusive bool
	Empty          bool
}

type Field struct {
	Name  string
	Value Value
}

// Composite is a row value with ordered fields.
type Composite struct {
	Fields []Field
}

// RawField is one decoded field of a named composite value. Connection
// adapters pass a composite column to Map as []RawField in declaration order.
type RawField struct {
	Name     string
	TypeName string
	Raw      any
}

// Unknown carries a value of a type the mapper does not handle, rendered as text.
type Unknown struct {
	TypeName string
	Text     string
}

func (Null) Kind() Kind        { return KindNull }
func (Bool) Kind() Kind        { return KindBool }
func (SmallInt) Kind() Kind    { return KindSmallInt }
func (Int) Kind() Kind         { return KindInt }
func (BigInt) Kind() Kind      { return KindBigInt }
func (Float) Kind() Kind       { return KindFloat }
func (Double) Kind() Kind      { return KindDouble }
func (Numeric) Kind() Kind     { return KindNumeric }
func (Text) Kind() Kind        { return KindText }
func (Bytea) Kind() Kind       { return KindBytea }
func (JSON) Kind() Kind        { return KindJSON }
func (UUID) Kind() Kind        { return KindUUID }
func (Date) Kind() Kind        { return KindDate }
func (Time) Kind() Kind        { return KindTime }
func (Timestamp) Kind() Kind   { return KindTimestamp }
func (TimestampTZ) Kind() Kind { return KindTimestampTZ }
func (Interval) Kind() Kind    { return KindInterval }
func (Array) Kind() Kind       { return KindArray }
func (Point) Kind() Kind       { return KindPoint }
func (Range) Kind() Kind       { return KindRange }
func (Composite) Kind() Kind   { return KindComposite }
func (Unknown) Kind() Kind     { return KindUnknown }

func (Null) valueNode()        {}
func (Bool) valueNode()        {}
func (SmallInt) valueNode()    {}
func (Int) valueNode()         {}
func (BigInt) valueNode()      {}
func (Float) valueNode()       {}
func (Double) valueNode()      {}
func (Numeric) valueNode()     {}
func (Text) valueNode()        {}
func (Bytea) valueNode()       {}
func (JSON) valueNode()        {}
func (UUID) valueNode()        {}
func (Date) valueNode()        {}
func (Time) valueNode()        {}
func (Timestamp) valueNode()   {}
func (TimestampTZ) valueNode() {}
func (Interval) valueNode()    {}
func (Array) valueNode()       {}
func (Point) valueNode()       {}
func (Range) valueNode()       {}
func (Composite) valueNode()   {}
func (Unknown) valueNode()     {}
