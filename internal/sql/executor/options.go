package executor

import "time"

const (
	defaultBatchSize     = 500
	defaultBulkBatchSize = 5000
	defaultRowLimit      = 10000
)

// Options control how one call executes. The zero value is usable and means
// no timeout, no row limit and the default batch size.
type Options struct {
	// Timeout is applied as the session statement_timeout. Zero means none.
	Timeout time.Duration

	// RowLimit caps the rows delivered per statement. Zero means unlimited.
	RowLimit int

	BatchSize   int
	StopOnError bool
	ReadOnly    bool
}

// Interactive returns the defaults for a user typing queries.
func Interactive() Options {
	return Options{
		RowLimit:    defaultRowLimit,
		BatchSize:   defaultBatchSize,
		StopOnError: true,
	}
}

// Bulk returns the defaults for scripts and exports.
func Bulk() Options {
	return Options{
		BatchSize: defaultBulkBatchSize,
	}
}

func (o Options) normalize() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.RowLimit < 0 {
		o.RowLimit = 0
	}
	if o.Timeout < 0 {
		o.Timeout = 0
	}
	return o
}
