package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const (
	timestampLayout   = "2006-01-02T15:04:05.999999999"
	timestampTZLayout = time.RFC3339Nano
	dateLayout        = "2006-01-02"
)

// mapFunc converts a non-nil raw column value. ok=false means the raw Go
// type did not fit the strategy; Map then falls back to Unknown.
type mapFunc func(raw any) (v Value, ok bool)

// mappers is the type-name dispatch table. Array types ("_int4") are
// dispatched on their element type, see Map.
var mappers map[string]mapFunc

// rangeElems maps a range type to the type of its bounds.
var rangeElems = map[string]string{
	"int4range": "int4",
	"int8range": "int8",
	"numrange":  "numeric",
	"daterange": "date",
	"tsrange":   "timestamp",
	"tstzrange": "timestamptz",
}

// aliases normalizes SQL-standard spellings to server type names.
var aliases = map[string]string{
	"boolean":                     "bool",
	"smallint":                    "int2",
	"integer":                     "int4",
	"int":                         "int4",
	"bigint":                      "int8",
	"real":                        "float4",
	"double precision":            "float8",
	"decimal":                     "numeric",
	"character varying":           "varchar",
	"character":                   "bpchar",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"time without time zone":      "time",
	"time with time zone":         "timetz",
}

func init() {
	mappers = map[string]mapFunc{
		"bool": mapBool,

		"int2": mapSmallInt,
		"int4": mapInt,
		"int8": mapBigInt,
		"oid":  mapBigInt,
		"xid":  mapBigInt,
		"cid":  mapBigInt,

		"float4":  mapFloat,
		"float8":  mapDouble,
		"numeric": mapNumeric,

		"text":    mapText,
		"varchar": mapText,
		"bpchar":  mapText,
		"char":    mapText,
		"name":    mapText,
		"citext":  mapText,
		"xml":     mapText,
		"money":   mapText,
		"inet":    mapText,
		"cidr":    mapText,
		"macaddr": mapText,
		"bit":     mapBits,
		"varbit":  mapBits,

		"bytea": mapBytea,

		"json":  mapJSON,
		"jsonb": mapJSON,

		"uuid": mapUUID,

		"date":        mapDate,
		"time":        mapTime,
		"timetz":      mapText,
		"timestamp":   mapTimestamp,
		"timestamptz": mapTimestampTZ,
		"interval":    mapInterval,

		"point": mapPoint,

		"record": mapRecord,
	}

	for name := range rangeElems {
		elem := rangeElems[name]
		mappers[name] = func(raw any) (Value, bool) { return mapRange(raw, elem) }
	}
}

// NormalizeTypeName lowercases a type name, strips a pg_catalog prefix and
// resolves SQL-standard aliases.
func NormalizeTypeName(typeName string) string {
	n := strings.ToLower(strings.TrimSpace(typeName))
	n = strings.TrimPrefix(n, "pg_catalog.")
	if a, ok := aliases[n]; ok {
		return a
	}
	if strings.HasSuffix(n, "[]") {
		return "_" + NormalizeTypeName(strings.TrimSuffix(n, "[]"))
	}
	return n
}

// Supported reports whether typeName has a dedicated conversion strategy.
func Supported(typeName string) bool {
	n := NormalizeTypeName(typeName)
	if strings.HasPrefix(n, "_") {
		n = n[1:]
	}
	_, ok := mappers[n]
	return ok
}

// Map converts a decoded column value into a Value. It never fails: a nil
// raw value is Null, and anything without a strategy (or whose Go type does
// not fit the strategy) becomes Unknown carrying the original type name.
func Map(raw any, typeName string) Value {
	if isNil(raw) {
		return Null{}
	}

	if fields, ok := raw.([]RawField); ok {
		return mapComposite(fields)
	}

	n := NormalizeTypeName(typeName)

	if elem, ok := strings.CutPrefix(n, "_"); ok {
		return mapArray(raw, typeName, elem)
	}

	if fn, ok := mappers[n]; ok {
		if v, ok := fn(raw); ok {
			return v
		}
	}

	return unknown(typeName, raw)
}

func mapArray(raw any, typeName, elem string) Value {
	var (
		items []any
		dims  []pgtype.ArrayDimension
	)
	switch x := raw.(type) {
	case []any:
		items = x
	case pgtype.Array[any]:
		if !x.Valid {
			return Null{}
		}
		items, dims = x.Elements, x.Dims
	default:
		// Text-format arrays of types the driver cannot decode.
		return unknown(typeName, raw)
	}

	fn, known := mappers[elem]

	elems := make([]Value, len(items))
	for i, item := range items {
		switch {
		case isNil(item):
			elems[i] = Null{}
		case known:
			if v, ok := fn(item); ok {
				elems[i] = v
				continue
			}
			elems[i] = unknown(elem, item)
		default:
			elems[i] = unknown(elem, item)
		}
	}
	return nest(elem, elems, dims)
}

// nest rebuilds the dimensions of row-major elems. Dimensions that do not
// account for every element leave the array flat.
func nest(elem string, elems []Value, dims []pgtype.ArrayDimension) Array {
	if len(dims) <= 1 || cardinality(dims) != len(elems) {
		return Array{ElemType: elem, Elems: elems}
	}

	n := int(dims[0].Length)
	step := len(elems) / n
	out := Array{ElemType: elem, Elems: make([]Value, n)}
	for i := range n {
		out.Elems[i] = nest(elem, elems[i*step:(i+1)*step], dims[1:])
	}
	return out
}

func cardinality(dims []pgtype.ArrayDimension) int {
	n := 1
	for _, d := range dims {
		if d.Length <= 0 {
			return 0
		}
		n *= int(d.Length)
	}
	return n
}

// ---- scalar strategies ----

func mapBool(raw any) (Value, bool) {
	switch x := raw.(type) {
	case bool:
		return Bool(x), true
	case string:
		switch strings.ToLower(x) {
		case "t", "true", "yes", "on", "1":
			return Bool(true), true
		case "f", "false", "no", "off", "0":
			return Bool(false), true
		}
	}
	return nil, false
}

func mapSmallInt(raw any) (Value, bool) {
	n, ok := toInt64(raw)
	if !ok || n < -1<<15 || n > 1<<15-1 {
		return nil, false
	}
	return SmallInt(n), true
}

func mapInt(raw any) (Value, bool) {
	n, ok := toInt64(raw)
	if !ok || n < -1<<31 || n > 1<<31-1 {
		return nil, false
	}
	return Int(n), true
}

func mapBigInt(raw any) (Value, bool) {
	n, ok := toInt64(raw)
	if !ok {
		return nil, false
	}
	return BigInt(n), true
}

func mapFloat(raw any) (Value, bool) {
	switch x := raw.(type) {
	case float32:
		return Float(x), true
	case float64:
		return Float(float32(x)), true
	case string:
		f, err := strconv.ParseFloat(x, 32)
		if err != nil {
			return nil, false
		}
		return Float(float32(f)), true
	}
	return nil, false
}

func mapDouble(raw any) (Value, bool) {
	switch x := raw.(type) {
	case float64:
		return Double(x), true
	case float32:
		return Double(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil, false
		}
		return Double(f), true
	}
	return nil, false
}

// mapNumeric keeps the exact decimal text; no value passes through a float.
func mapNumeric(raw any) (Value, bool) {
	switch x := raw.(type) {
	case pgtype.Numeric:
		s, ok := numericText(x)
		if !ok {
			return nil, false
		}
		return Numeric(s), true
	case string:
		return Numeric(strings.TrimSpace(x)), true
	case []byte:
		return Numeric(strings.TrimSpace(string(x))), true
	case decimal.Decimal:
		return Numeric(x.String()), true
	case *big.Int:
		return Numeric(x.String()), true
	case int64, int32, int16, int:
		n, _ := toInt64(x)
		return Numeric(strconv.FormatInt(n, 10)), true
	case float64:
		// Already a binary float upstream; print its shortest exact form.
		return Numeric(strconv.FormatFloat(x, 'f', -1, 64)), true
	}
	return nil, false
}

func numericText(n pgtype.Numeric) (string, bool) {
	switch {
	case !n.Valid:
		return "", false
	case n.NaN:
		return "NaN", true
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity", true
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity", true
	case n.Int == nil:
		return "0", true
	}

	d := decimal.NewFromBigInt(n.Int, n.Exp)
	if n.Exp < 0 {
		// Keep the scale, including trailing zeros.
		return d.StringFixed(-n.Exp), true
	}
	return d.String(), true
}

func mapText(raw any) (Value, bool) {
	switch x := raw.(type) {
	case string:
		return Text(x), true
	case []byte:
		return Text(string(x)), true
	case netip.Prefix:
		return Text(x.String()), true
	case netip.Addr:
		return Text(x.String()), true
	case net.HardwareAddr:
		return Text(x.String()), true
	case fmt.Stringer:
		return Text(x.String()), true
	}
	return nil, false
}

func mapBits(raw any) (Value, bool) {
	switch x := raw.(type) {
	case pgtype.Bits:
		if !x.Valid {
			return nil, false
		}
		var b strings.Builder
		b.Grow(int(x.Len))
		for i := int32(0); i < x.Len; i++ {
			if x.Bytes[i/8]&(0x80>>(uint(i)%8)) != 0 {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
		return Text(b.String()), true
	case string:
		return Text(x), true
	}
	return nil, false
}

func mapBytea(raw any) (Value, bool) {
	switch x := raw.(type) {
	case []byte:
		return Bytea(bytes.Clone(x)), true
	case string:
		return Bytea([]byte(x)), true
	}
	return nil, false
}

// mapJSON keeps documents structured. Text input is decoded with UseNumber
// so numbers keep their exact text.
func mapJSON(raw any) (Value, bool) {
	switch x := raw.(type) {
	case []byte:
		return decodeJSON(x)
	case json.RawMessage:
		return decodeJSON(x)
	case string:
		if v, ok := decodeJSON([]byte(x)); ok {
			return v, true
		}
		// Already-decoded JSON string scalar.
		return JSON{Doc: x}, true
	default:
		return JSON{Doc: x}, true
	}
}

func decodeJSON(src []byte) (Value, bool) {
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return JSON{Doc: doc}, true
}

func mapUUID(raw any) (Value, bool) {
	switch x := raw.(type) {
	case [16]byte:
		return UUID(uuid.UUID(x).String()), true
	case pgtype.UUID:
		if !x.Valid {
			return nil, false
		}
		return UUID(uuid.UUID(x.Bytes).String()), true
	case uuid.UUID:
		return UUID(x.String()), true
	case string:
		u, err := uuid.Parse(x)
		if err != nil {
			return nil, false
		}
		return UUID(u.String()), true
	}
	return nil, false
}

// ---- temporal strategies ----

func mapDate(raw any) (Value, bool) {
	switch x := raw.(type) {
	case time.Time:
		return Date(x.Format(dateLayout)), true
	case pgtype.InfinityModifier:
		if s, ok := infinityText(x); ok {
			return Date(s), true
		}
	case string:
		// infinity / -infinity
		return Date(x), true
	}
	return nil, false
}

// infinityText renders the special date and timestamp values the way the
// server prints them.
func infinityText(m pgtype.InfinityModifier) (string, bool) {
	switch m {
	case pgtype.Infinity:
		return "infinity", true
	case pgtype.NegativeInfinity:
		return "-infinity", true
	}
	return "", false
}

func mapTime(raw any) (Value, bool) {
	switch x := raw.(type) {
	case pgtype.Time:
		if !x.Valid {
			return nil, false
		}
		return Time(formatMicrosOfDay(x.Microseconds)), true
	case time.Duration:
		return Time(formatMicrosOfDay(x.Microseconds())), true
	case string:
		return Time(x), true
	}
	return nil, false
}

func mapTimestamp(raw any) (Value, bool) {
	switch x := raw.(type) {
	case time.Time:
		return Timestamp(x.Format(timestampLayout)), true
	case pgtype.InfinityModifier:
		if s, ok := infinityText(x); ok {
			return Timestamp(s), true
		}
	case string:
		return Timestamp(x), true
	}
	return nil, false
}

func mapTimestampTZ(raw any) (Value, bool) {
	switch x := raw.(type) {
	case time.Time:
		return TimestampTZ(x.Format(timestampTZLayout)), true
	case pgtype.InfinityModifier:
		if s, ok := infinityText(x); ok {
			return TimestampTZ(s), true
		}
	case string:
		return TimestampTZ(x), true
	}
	return nil, false
}

func mapInterval(raw any) (Value, bool) {
	switch x := raw.(type) {
	case pgtype.Interval:
		if !x.Valid {
			return nil, false
		}
		return Interval(formatISOInterval(x.Months, x.Days, x.Microseconds)), true
	case time.Duration:
		return Interval(formatISOInterval(0, 0, x.Microseconds())), true
	case string:
		return Interval(x), true
	}
	return nil, false
}

func formatMicrosOfDay(us int64) string {
	h := us / 3_600_000_000
	us -= h * 3_600_000_000
	m := us / 60_000_000
	us -= m * 60_000_000
	s := us / 1_000_000
	us -= s * 1_000_000

	out := fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	if us > 0 {
		out += strings.TrimRight(fmt.Sprintf(".%06d", us), "0")
	}
	return out
}

func formatISOInterval(months, days int32, us int64) string {
	if months == 0 && days == 0 && us == 0 {
		return "PT0S"
	}

	var b strings.Builder
	b.WriteByte('P')

	if y := months / 12; y != 0 {
		fmt.Fprintf(&b, "%dY", y)
	}
	if mo := months % 12; mo != 0 {
		fmt.Fprintf(&b, "%dM", mo)
	}
	if days != 0 {
		fmt.Fprintf(&b, "%dD", days)
	}

	if us != 0 {
		b.WriteByte('T')
		neg := us < 0
		if neg {
			us = -us
		}
		sign := ""
		if neg {
			sign = "-"
		}

		h := us / 3_600_000_000
		us -= h * 3_600_000_000
		m := us / 60_000_000
		us -= m * 60_000_000

		if h != 0 {
			fmt.Fprintf(&b, "%s%dH", sign, h)
		}
		if m != 0 {
			fmt.Fprintf(&b, "%s%dM", sign, m)
		}
		if us != 0 {
			sec := strconv.FormatInt(us/1_000_000, 10)
			if frac := us % 1_000_000; frac != 0 {
				sec += strings.TrimRight(fmt.Sprintf(".%06d", frac), "0")
			}
			fmt.Fprintf(&b, "%s%sS", sign, sec)
		}
	}

	return b.String()
}

// ---- geometric, range and composite strategies ----

func mapPoint(raw any) (Value, bool) {
	switch x := raw.(type) {
	case pgtype.Point:
		if !x.Valid {
			return nil, false
		}
		return Point{X: x.P.X, Y: x.P.Y}, true
	case string:
		var p Point
		if _, err := fmt.Sscanf(x, "(%g,%g)", &p.X, &p.Y); err != nil {
			return nil, false
		}
		return p, true
	}
	return nil, false
}

func mapRange(raw any, elem string) (Value, bool) {
	r, ok := raw.(pgtype.Range[any])
	if !ok {
		return nil, false
	}
	if !r.Valid {
		return Null{}, true
	}
	if r.LowerType == pgtype.Empty || r.UpperType == pgtype.Empty {
		return Range{Empty: true}, true
	}

	out := Range{
		LowerInclusive: r.LowerType == pgtype.Inclusive,
		UpperInclusive: r.UpperType == pgtype.Inclusive,
	}
	if r.LowerType != pgtype.Unbounded {
		out.Lower = Map(r.Lower, elem)
	}
	if r.UpperType != pgtype.Unbounded {
		out.Upper = Map(r.Upper, elem)
	}
	return out, true
}

// mapComposite maps the fields of a named composite by their own types.
func mapComposite(fields []RawField) Value {
	out := Composite{Fields: make([]Field, len(fields))}
	for i, f := range fields {
		out.Fields[i] = Field{Name: f.Name, Value: Map(f.Raw, f.TypeName)}
	}
	return out
}

// mapRecord handles anonymous records. The server does not report field
// names for them, so fields are named f1..fN like ROW() output columns.
func mapRecord(raw any) (Value, bool) {
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}

	out := Composite{Fields: make([]Field, len(items))}
	for i, item := range items {
		out.Fields[i] = Field{Name: "f" + strconv.Itoa(i+1), Value: Infer(item)}
	}
	return out, true
}

// Infer maps a decoded value whose server type is not known, choosing the
// variant from its Go type.
func Infer(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(x)
	case int16:
		return SmallInt(x)
	case int32:
		return Int(x)
	case int64:
		return BigInt(x)
	case int:
		return BigInt(x)
	case float32:
		return Float(x)
	case float64:
		return Double(x)
	case string:
		return Text(x)
	case []byte:
		return Bytea(bytes.Clone(x))
	case time.Time:
		return TimestampTZ(x.Format(timestampTZLayout))
	case pgtype.Numeric:
		if v, ok := mapNumeric(x); ok {
			return v
		}
	case pgtype.Interval:
		if v, ok := mapInterval(x); ok {
			return v
		}
	case pgtype.Time:
		if v, ok := mapTime(x); ok {
			return v
		}
	case pgtype.Point:
		if v, ok := mapPoint(x); ok {
			return v
		}
	case [16]byte:
		return UUID(uuid.UUID(x).String())
	case map[string]any:
		return JSON{Doc: x}
	case []any:
		out := Array{Elems: make([]Value, len(x))}
		for i, item := range x {
			out.Elems[i] = Infer(item)
		}
		return out
	}
	return unknown(fmt.Sprintf("%T", raw), raw)
}

// ---- helpers ----

func unknown(typeName string, raw any) Unknown {
	var text string
	switch x := raw.(type) {
	case string:
		text = x
	case []byte:
		text = string(x)
	default:
		text = fmt.Sprint(x)
	}
	return Unknown{TypeName: typeName, Text: text}
}

func toInt64(raw any) (int64, bool) {
	switch x := raw.(type) {
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint8:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func isNil(raw any) bool {
	switch x := raw.(type) {
	case nil:
		return true
	case []byte:
		return x == nil
	}
	return false
}
