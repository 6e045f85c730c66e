package executor

// Sink receives the progress of a streamed statement. Calls for one query are
// made from a single goroutine, in order: columns, batches by increasing Seq,
// then complete.
type Sink interface {
	OnColumns(queryID string, statement int, cols []ColumnDescriptor)
	OnBatch(batch RowBatch)
	OnComplete(out *Outcome)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are skipped.
type SinkFuncs struct {
	Columns  func(queryID string, statement int, cols []ColumnDescriptor)
	Batch    func(batch RowBatch)
	Complete func(out *Outcome)
}

func (s SinkFuncs) OnColumns(queryID string, statement int, cols []ColumnDescriptor) {
	if s.Columns != nil {
		s.Columns(queryID, statement, cols)
	}
}

func (s SinkFuncs) OnBatch(batch RowBatch) {
	if s.Batch != nil {
		s.Batch(batch)
	}
}

func (s SinkFuncs) OnComplete(out *Outcome) {
	if s.Complete != nil {
		s.Complete(out)
	}
}

// EventKind tags a StreamEvent.
type EventKind int

const (
	EventColumns EventKind = iota
	EventBatch
	EventComplete
)

// StreamEvent is what a ChannelSink delivers.
type StreamEvent struct {
	Kind      EventKind
	QueryID   string
	Statement int
	Columns   []ColumnDescriptor
	Batch     RowBatch
	Outcome   *Outcome
}

// ChannelSink turns sink calls into events on a channel, for consumers that
// prefer pulling. The channel is closed after the complete event. The reader
// must keep draining; a full channel blocks the producing query.
type ChannelSink struct {
	ch chan StreamEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan StreamEvent, buffer)}
}

func (s *ChannelSink) Events() <-chan StreamEvent { return s.ch }

func (s *ChannelSink) OnColumns(queryID string, statement int, cols []ColumnDescriptor) {
	s.ch <- StreamEvent{Kind: EventColumns, QueryID: queryID, Statement: statement, Columns: cols}
}

func (s *ChannelSink) OnBatch(batch RowBatch) {
	s.ch <- StreamEvent{Kind: EventBatch, QueryID: batch.QueryID, Statement: batch.Statement, Batch: batch}
}

func (s *ChannelSink) OnComplete(out *Outcome) {
	s.ch <- StreamEvent{Kind: EventComplete, QueryID: out.QueryID, Statement: out.StatementIndex, Outcome: out}
	close(s.ch)
}

type discardSink struct{}

func (discardSink) OnColumns(string, int, []ColumnDescriptor) {}
func (discardSink) OnBatch(RowBatch)                         {}
func (discardSink) OnComplete(*Outcome)                      {}
