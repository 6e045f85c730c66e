package value

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NullText is the display form of SQL NULL.
const NullText = "NULL"

// Format returns the display string of v. It is a pure function of v.
func Format(v Value) string {
	switch x := v.(type) {
	case nil, Null:
		return NullText
	case Bool:
		return strconv.FormatBool(bool(x))
	case SmallInt:
		return strconv.FormatInt(int64(x), 10)
	case Int:
		return strconv.FormatInt(int64(x), 10)
	case BigInt:
		return strconv.FormatInt(int64(x), 10)
	case Float:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case Double:
		return strconv.FormatFloat(float64(x), 'g', -1, 64)
	case Numeric:
		return string(x)
	case Text:
		return string(x)
	case Bytea:
		return `\x` + hex.EncodeToString(x)
	case JSON:
		return formatJSON(x.Doc)
	case UUID:
		return string(x)
	case Date:
		return string(x)
	case Time:
		return string(x)
	case Timestamp:
		return string(x)
	case TimestampTZ:
		return string(x)
	case Interval:
		return string(x)
	case Array:
		parts := make([]string, len(x.Elems))
		for i, e := range x.Elems {
			parts[i] = Format(e)
		}
		return "{" + strings.Join(parts, ",") + "}"
	case Point:
		return "(" + strconv.FormatFloat(x.X, 'g', -1, 64) + "," + strconv.FormatFloat(x.Y, 'g', -1, 64) + ")"
	case Range:
		return formatRange(x)
	case Composite:
		parts := make([]string, len(x.Fields))
		for i, f := range x.Fields {
			parts[i] = f.Name + ":" + Format(f.Value)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case Unknown:
		return x.Text
	}
	return fmt.Sprint(v)
}

func formatRange(r Range) string {
	if r.Empty {
		return "empty"
	}

	var b strings.Builder
	if r.LowerInclusive {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	if r.Lower != nil {
		b.WriteString(Format(r.Lower))
	}
	b.WriteByte(',')
	if r.Upper != nil {
		b.WriteString(Format(r.Upper))
	}
	if r.UpperInclusive {
		b.WriteByte(']')
	} else {
		b.WriteByte(')')
	}
	return b.String()
}

func formatJSON(doc any) string {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Sprint(doc)
	}
	return string(b)
}
