// Package replay drives a prediction engine over a recorded trace.
//
// Reading, predicting, and writing run as a three-stage pipeline
// connected by bounded channels. The engine stage is the only owner of
// the learning state, so events reach it strictly in trace order and the
// pipeline only exists for throughput.
package replay

import (
	"errors"
	"io"
	"log"
	"sync"

	"github.com/sarchlab/qfetch/config"
	"github.com/sarchlab/qfetch/datarecording"
	"github.com/sarchlab/qfetch/monitoring"
	"github.com/sarchlab/qfetch/output"
	"github.com/sarchlab/qfetch/prefetch"
	"github.com/sarchlab/qfetch/trace"
)

// EngineFromConfig builds an engine from a validated configuration.
func EngineFromConfig(cfg config.Config) *prefetch.Engine {
	q := cfg.QFetcher

	return prefetch.MakeBuilder().
		WithPageSize(cfg.System.PageSizeBytes).
		WithCacheLineSize(cfg.System.CacheLineSizeBytes).
		WithSignatureBits(q.SignatureBits).
		WithSignatureShift(q.SignatureShift).
		WithHistoryDepth(q.HistoryDepth).
		WithActionSet(q.ActionSet).
		WithLearningRate(q.LearningRate).
		WithDiscount(q.Discount).
		WithExplorationRate(q.ExplorationRate).
		WithExplorationDecay(q.ExplorationDecay).
		WithEarlyWindow(q.EarlyWindow).
		WithRewardWindow(q.RewardWindow).
		WithRewards(q.RewardHit, q.RewardLate, q.RewardMiss).
		WithContextTableCapacity(q.ContextTableCapacity).
		WithQTableCapacity(q.QTableCapacity).
		WithMaxPendingPerContext(q.MaxPendingPerContext).
		WithSeed(q.Seed).
		Build()
}

// A Runner replays one trace through one engine and delivers the emitted
// prefetches to a sink.
type Runner struct {
	engine   *prefetch.Engine
	reader   *trace.Reader
	sink     output.Sink
	queueCap int

	monitor  *monitoring.Monitor
	recorder datarecording.DataRecorder
}

// A RunnerBuilder can build runners.
type RunnerBuilder struct {
	engine   *prefetch.Engine
	reader   *trace.Reader
	sink     output.Sink
	queueCap int
	monitor  *monitoring.Monitor
	recorder datarecording.DataRecorder
}

// MakeRunnerBuilder creates a builder with default parameter setting.
func MakeRunnerBuilder() RunnerBuilder {
	return RunnerBuilder{
		queueCap: 1024,
	}
}

// WithEngine sets the prediction engine to drive.
func (b RunnerBuilder) WithEngine(e *prefetch.Engine) RunnerBuilder {
	b.engine = e
	return b
}

// WithReader sets the trace to replay.
func (b RunnerBuilder) WithReader(r *trace.Reader) RunnerBuilder {
	b.reader = r
	return b
}

// WithSink sets where emitted prefetches go.
func (b RunnerBuilder) WithSink(s output.Sink) RunnerBuilder {
	b.sink = s
	return b
}

// WithQueueCap sets the capacity of the channels between the pipeline
// stages.
func (b RunnerBuilder) WithQueueCap(n int) RunnerBuilder {
	b.queueCap = n
	return b
}

// WithMonitor attaches a monitor that reports replay progress.
func (b RunnerBuilder) WithMonitor(m *monitoring.Monitor) RunnerBuilder {
	b.monitor = m
	return b
}

// WithRecorder attaches a recorder that stores the end-of-run stats.
func (b RunnerBuilder) WithRecorder(
	r datarecording.DataRecorder,
) RunnerBuilder {
	b.recorder = r
	return b
}

// Build builds a runner.
func (b RunnerBuilder) Build() *Runner {
	if b.engine == nil || b.reader == nil || b.sink == nil {
		panic("a runner needs an engine, a reader, and a sink")
	}

	if b.queueCap <= 0 {
		panic("queue capacity must be positive")
	}

	return &Runner{
		engine:   b.engine,
		reader:   b.reader,
		sink:     b.sink,
		queueCap: b.queueCap,
		monitor:  b.monitor,
		recorder: b.recorder,
	}
}

// Run replays the whole trace. It returns once the trace is exhausted and
// all predictions are written. A truncated trace is not an error; the
// learning tables stay consistent for inspection.
func (r *Runner) Run() error {
	events := make(chan trace.AccessEvent, r.queueCap)
	results := make(chan prefetch.Prefetch, r.queueCap)

	var bar *monitoring.ProgressBar
	if r.monitor != nil {
		bar = r.monitor.CreateProgressBar("replay", 0)
	}

	var wg sync.WaitGroup
	var readErr, writeErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		readErr = r.readStage(events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(results)
		r.engineStage(events, results, bar)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		writeErr = r.writeStage(results)
	}()

	wg.Wait()

	if bar != nil {
		r.monitor.CompleteProgressBar(bar)
	}

	r.recordStats()

	return errors.Join(readErr, writeErr)
}

func (r *Runner) readStage(events chan<- trace.AccessEvent) error {
	for {
		ev, err := r.reader.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return err
		}

		events <- ev
	}
}

func (r *Runner) engineStage(
	events <-chan trace.AccessEvent,
	results chan<- prefetch.Prefetch,
	bar *monitoring.ProgressBar,
) {
	for ev := range events {
		prefetches, err := r.engine.Observe(ev)
		if err != nil {
			log.Printf("warning: %v", err)
			continue
		}

		for _, p := range prefetches {
			results <- p
		}

		if bar != nil {
			bar.IncrementFinished(1)
		}
	}
}

func (r *Runner) writeStage(results <-chan prefetch.Prefetch) error {
	var firstErr error

	for p := range results {
		if firstErr != nil {
			// Keep draining so the engine stage never blocks.
			continue
		}

		firstErr = r.sink.WritePrefetch(p)
	}

	return firstErr
}

// StatsRow is the database shape of the end-of-run summary.
type StatsRow struct {
	Events           uint64
	SkippedEvents    uint64
	ColdAccesses     uint64
	PrefetchesIssued uint64
	Hits             uint64
	LateHits         uint64
	Expired          uint64
	Forfeited        uint64
	DroppedPending   uint64
	Contexts         int
	Rows             int
	Outstanding      int
	SkippedLines     int
}

func (r *Runner) recordStats() {
	if r.recorder == nil {
		return
	}

	s := r.engine.Stats()

	r.recorder.CreateTable("run_stats", StatsRow{})
	r.recorder.InsertData("run_stats", StatsRow{
		Events:           s.Events,
		SkippedEvents:    s.SkippedEvents,
		ColdAccesses:     s.ColdAccesses,
		PrefetchesIssued: s.PrefetchesIssued,
		Hits:             s.Hits,
		LateHits:         s.LateHits,
		Expired:          s.Expired,
		Forfeited:        s.Forfeited,
		DroppedPending:   s.DroppedPending,
		Contexts:         s.Contexts,
		Rows:             s.Rows,
		Outstanding:      s.Outstanding,
		SkippedLines:     r.reader.Skipped(),
	})
	r.recorder.Flush()
}
