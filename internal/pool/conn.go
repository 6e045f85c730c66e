package pool

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/willibrandon/tusk-sub004/internal/logger"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
	"github.com/willibrandon/tusk-sub004/internal/sql/value"
)

const (
	typeNameQuery = `SELECT CASE WHEN t.typtype = 'd' THEN b.typname ELSE t.typname END,
	t.typtype = 'c', t.oid::regtype::text
FROM pg_type t LEFT JOIN pg_type b ON b.oid = t.typbasetype
WHERE t.oid = $1`

	nullabilityQuery = `SELECT attnum, NOT attnotnull FROM pg_attribute
WHERE attrelid = $1 AND attnum > 0 AND NOT attisdropped`
)

// conn adapts a pooled pgx connection to executor.Conn.
type conn struct {
	c     *pgxpool.Conn
	types *typeCache
	log   logger.Logger
}

var _ executor.Conn = (*conn)(nil)

// Prepare describes sql with an unnamed statement so column metadata is
// known before any row is fetched.
func (c *conn) Prepare(ctx context.Context, sql string) (*executor.Prepared, error) {
	sd, err := c.c.Conn().PgConn().Prepare(ctx, "", sql, nil)
	if err != nil {
		return nil, err
	}

	cols := make([]executor.ColumnDescriptor, len(sd.Fields))
	for i, f := range sd.Fields {
		cols[i] = executor.ColumnDescriptor{
			Name:     f.Name,
			TypeOID:  f.DataTypeOID,
			TypeName: c.typeName(ctx, f.DataTypeOID),
			Ordinal:  i + 1,
		}
	}
	c.fillNullability(ctx, sd.Fields, cols)

	return &executor.Prepared{Columns: cols}, nil
}

func (c *conn) typeName(ctx context.Context, oid uint32) string {
	m := c.c.Conn().TypeMap()
	if t, ok := m.TypeForOID(oid); ok {
		return t.Name
	}
	if e, ok := c.types.lookup(oid); ok {
		if len(e.types) > 0 {
			m.RegisterTypes(e.types)
		}
		return e.name
	}

	var (
		name      string
		composite bool
		regtype   string
	)
	if err := c.c.QueryRow(ctx, typeNameQuery, oid).Scan(&name, &composite, &regtype); err != nil {
		c.log.Warn("pool: type lookup failed", logger.Ctx{"oid": oid, "err": err})
		return ""
	}

	var types []*pgtype.Type
	if composite {
		types = c.loadComposite(ctx, regtype)
	}
	c.types.put(oid, name, types)
	return name
}

// loadComposite loads a named composite type, and the types its fields need,
// into the connection's type map so its values decode field by field instead
// of as text.
func (c *conn) loadComposite(ctx context.Context, name string) []*pgtype.Type {
	types, err := c.c.Conn().LoadTypes(ctx, []string{name})
	if err != nil {
		c.log.Warn("pool: composite type load failed", logger.Ctx{"type": name, "err": err})
		return nil
	}
	// Registering in result order leaves each OID on its unqualified name,
	// the same as on connections that register the cached types later.
	c.c.Conn().TypeMap().RegisterTypes(types)
	return types
}

// fillNullability marks columns that come straight from a table. Failures
// leave Nullable unset.
func (c *conn) fillNullability(ctx context.Context, fields []pgconn.FieldDescription, cols []executor.ColumnDescriptor) {
	byTable := make(map[uint32]map[int16]bool)
	for _, f := range fields {
		if f.TableOID == 0 || f.TableAttributeNumber == 0 {
			continue
		}
		if _, ok := byTable[f.TableOID]; ok {
			continue
		}

		rows, err := c.c.Query(ctx, nullabilityQuery, f.TableOID)
		if err != nil {
			c.log.Warn("pool: nullability lookup failed", logger.Ctx{"table_oid": f.TableOID, "err": err})
			return
		}

		attrs := make(map[int16]bool)
		var (
			num      int16
			nullable bool
		)
		_, err = pgx.ForEachRow(rows, []any{&num, &nullable}, func() error {
			attrs[num] = nullable
			return nil
		})
		if err != nil {
			c.log.Warn("pool: nullability lookup failed", logger.Ctx{"table_oid": f.TableOID, "err": err})
			return
		}
		byTable[f.TableOID] = attrs
	}

	for i, f := range fields {
		attrs, ok := byTable[f.TableOID]
		if !ok {
			continue
		}
		if nullable, ok := attrs[int16(f.TableAttributeNumber)]; ok {
			cols[i].Nullable = &nullable
		}
	}
}

func (c *conn) Exec(ctx context.Context, sql string, params ...any) (executor.Tag, error) {
	tag, err := c.c.Exec(ctx, sql, params...)
	if err != nil {
		return executor.Tag{}, err
	}
	return executor.Tag{Text: tag.String(), RowsAffected: tag.RowsAffected()}, nil
}

func (c *conn) Query(ctx context.Context, sql string, params ...any) (executor.Rows, error) {
	r, err := c.c.Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	return &rows{r: r}, nil
}

func (c *conn) CancelRequest(ctx context.Context) error {
	return c.c.Conn().PgConn().CancelRequest(ctx)
}

func (c *conn) Release() { c.c.Release() }

type columnKind int

const (
	columnPlain columnKind = iota
	columnJSON
	columnArray
	columnComposite
)

// rows adapts pgx.Rows. JSON columns are handed over as raw text so numbers
// keep their exact representation. Multidimensional arrays keep their
// dimensions and named composites keep their field order.
type rows struct {
	r pgx.Rows

	kinds []columnKind
	codec []*pgtype.CompositeCodec
}

func (r *rows) Next() bool { return r.r.Next() }
func (r *rows) Err() error { return r.r.Err() }
func (r *rows) Close()     { r.r.Close() }

func (r *rows) Tag() executor.Tag {
	tag := r.r.CommandTag()
	return executor.Tag{Text: tag.String(), RowsAffected: tag.RowsAffected()}
}

func (r *rows) Values() ([]any, error) {
	vals, err := r.r.Values()
	if err != nil {
		return nil, err
	}

	fields := r.r.FieldDescriptions()
	m := r.r.Conn().TypeMap()
	if r.kinds == nil {
		r.classify(m, fields)
	}

	raw := r.r.RawValues()
	for i, k := range r.kinds {
		switch k {
		case columnJSON:
			vals[i] = jsonText(fields[i], raw[i])
		case columnArray:
			vals[i] = arrayValue(m, fields[i], raw[i], vals[i])
		case columnComposite:
			vals[i] = compositeFields(r.codec[i], vals[i])
		}
	}
	return vals, nil
}

func (r *rows) classify(m *pgtype.Map, fields []pgconn.FieldDescription) {
	r.kinds = make([]columnKind, len(fields))
	r.codec = make([]*pgtype.CompositeCodec, len(fields))
	for i, f := range fields {
		if f.DataTypeOID == pgtype.JSONOID || f.DataTypeOID == pgtype.JSONBOID {
			r.kinds[i] = columnJSON
			continue
		}
		t, ok := m.TypeForOID(f.DataTypeOID)
		if !ok {
			continue
		}
		switch codec := t.Codec.(type) {
		case *pgtype.ArrayCodec:
			r.kinds[i] = columnArray
		case *pgtype.CompositeCodec:
			r.kinds[i] = columnComposite
			r.codec[i] = codec
		}
	}
}

// jsonText returns a copy of the JSON text of a raw json/jsonb value, or nil
// for NULL. Binary jsonb carries a leading version byte.
func jsonText(f pgconn.FieldDescription, raw []byte) any {
	if raw == nil {
		return nil
	}
	if f.Format == pgx.BinaryFormatCode && f.DataTypeOID == pgtype.JSONBOID && len(raw) > 0 && raw[0] == 1 {
		raw = raw[1:]
	}
	return append([]byte(nil), raw...)
}

// arrayValue decodes a multidimensional array again with its dimensions,
// since pgx flattens them. One-dimensional arrays keep the flat value.
func arrayValue(m *pgtype.Map, f pgconn.FieldDescription, raw []byte, flat any) any {
	if raw == nil {
		return flat
	}
	var arr pgtype.Array[any]
	if err := m.Scan(f.DataTypeOID, f.Format, raw, &arr); err != nil || len(arr.Dims) <= 1 {
		return flat
	}
	return arr
}

// compositeFields orders a decoded composite by its declared fields. pgx
// decodes composites into a map, which loses the order.
func compositeFields(codec *pgtype.CompositeCodec, v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	out := make([]value.RawField, len(codec.Fields))
	for i, f := range codec.Fields {
		raw := m[f.Name]
		if inner, ok := f.Type.Codec.(*pgtype.CompositeCodec); ok {
			raw = compositeFields(inner, raw)
		}
		out[i] = value.RawField{Name: f.Name, TypeName: f.Type.Name, Raw: raw}
	}
	return out
}
