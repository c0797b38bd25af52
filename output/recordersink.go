package output

import (
	"github.com/sarchlab/qfetch/datarecording"
	"github.com/sarchlab/qfetch/prefetch"
)

// PredictionRow is the database shape of one emitted prefetch.
type PredictionRow struct {
	InstrID uint64
	Addr    uint64
	Block   uint64
	Delta   int64
	Value   float64
}

// A RecorderSink stores predictions in the run database.
type RecorderSink struct {
	recorder  datarecording.DataRecorder
	tableName string
}

// NewRecorderSink creates the predictions table and returns a sink that
// fills it. The recorder stays owned by the caller; Close does not close
// it.
func NewRecorderSink(recorder datarecording.DataRecorder) *RecorderSink {
	s := &RecorderSink{
		recorder:  recorder,
		tableName: "predictions",
	}

	recorder.CreateTable(s.tableName, PredictionRow{})

	return s
}

// WritePrefetch records one prediction.
func (s *RecorderSink) WritePrefetch(p prefetch.Prefetch) error {
	s.recorder.InsertData(s.tableName, PredictionRow{
		InstrID: p.InstrID,
		Addr:    p.Addr,
		Block:   p.Block,
		Delta:   p.Delta,
		Value:   p.Value,
	})

	return nil
}

// Close flushes the buffered predictions.
func (s *RecorderSink) Close() error {
	s.recorder.Flush()
	return nil
}
