package replay

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/qfetch/config"
	"github.com/sarchlab/qfetch/datarecording"
	"github.com/sarchlab/qfetch/prefetch"
	"github.com/sarchlab/qfetch/trace"
)

func testEngine() *prefetch.Engine {
	return prefetch.MakeBuilder().
		WithHistoryDepth(2).
		WithActionSet([]int64{0, 1, 2}).
		WithExplorationRate(1.0).
		WithSeed(99).
		Build()
}

func syntheticTrace(numEvents int) (string, []trace.AccessEvent) {
	rng := rand.New(rand.NewSource(7))

	var sb strings.Builder
	var events []trace.AccessEvent

	block := uint64(100)
	for i := 0; i < numEvents; i++ {
		block += uint64(rng.Intn(3))
		ev := trace.AccessEvent{
			ID:    uint64(i + 1),
			Cycle: uint64(i * 10),
			Addr:  block << 6,
			IP:    0x401000,
			Hit:   i%2 == 0,
		}
		events = append(events, ev)

		hit := "0"
		if ev.Hit {
			hit = "1"
		}
		fmt.Fprintf(&sb, "%d, %d, %x, %x, %s\n",
			ev.ID, ev.Cycle, ev.Addr, ev.IP, hit)
	}

	return sb.String(), events
}

var _ = Describe("Runner", func() {
	var (
		mockCtrl *gomock.Controller
		sink     *MockSink
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		sink = NewMockSink(mockCtrl)
	})

	It("should deliver predictions to the sink in emission order", func() {
		text, events := syntheticTrace(200)

		reference := testEngine()
		var expected []prefetch.Prefetch
		for _, ev := range events {
			ps, err := reference.Observe(ev)
			Expect(err).NotTo(HaveOccurred())
			expected = append(expected, ps...)
		}
		Expect(expected).NotTo(BeEmpty())

		var calls []any
		for _, p := range expected {
			calls = append(calls, sink.EXPECT().WritePrefetch(p))
		}
		gomock.InOrder(calls...)

		runner := MakeRunnerBuilder().
			WithEngine(testEngine()).
			WithReader(trace.NewReaderFrom(strings.NewReader(text))).
			WithSink(sink).
			Build()

		Expect(runner.Run()).To(Succeed())
	})

	It("should stop writing after the first sink error", func() {
		text, _ := syntheticTrace(200)

		sink.EXPECT().
			WritePrefetch(gomock.Any()).
			Return(fmt.Errorf("disk full")).
			Times(1)

		runner := MakeRunnerBuilder().
			WithEngine(testEngine()).
			WithReader(trace.NewReaderFrom(strings.NewReader(text))).
			WithSink(sink).
			Build()

		err := runner.Run()
		Expect(err).To(MatchError(ContainSubstring("disk full")))
	})

	It("should skip malformed lines and keep replaying", func() {
		text, events := syntheticTrace(20)
		lines := strings.SplitAfter(text, "\n")
		mangled := lines[0] + "this is not a trace line\n" +
			strings.Join(lines[1:], "")

		sink.EXPECT().WritePrefetch(gomock.Any()).AnyTimes()

		engine := testEngine()
		reader := trace.NewReaderFrom(strings.NewReader(mangled))
		runner := MakeRunnerBuilder().
			WithEngine(engine).
			WithReader(reader).
			WithSink(sink).
			Build()

		Expect(runner.Run()).To(Succeed())
		Expect(reader.Skipped()).To(Equal(1))
		Expect(engine.Stats().Events).To(Equal(uint64(len(events))))
	})

	It("should record the end-of-run stats", func() {
		text, _ := syntheticTrace(50)
		dbPath := filepath.Join(GinkgoT().TempDir(), "run")

		sink.EXPECT().WritePrefetch(gomock.Any()).AnyTimes()

		recorder := datarecording.NewDataRecorder(dbPath)

		runner := MakeRunnerBuilder().
			WithEngine(testEngine()).
			WithReader(trace.NewReaderFrom(strings.NewReader(text))).
			WithSink(sink).
			WithRecorder(recorder).
			Build()

		Expect(runner.Run()).To(Succeed())
		recorder.Close()

		reader := datarecording.NewReader(dbPath + ".sqlite3")
		defer reader.Close()

		count, err := reader.CountRows("run_stats")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))
	})
})

var _ = Describe("EngineFromConfig", func() {
	It("should honor the configured action set and windows", func() {
		cfg := config.Default()
		cfg.Trace.TraceFile = "unused"
		cfg.QFetcher.ActionSet = []int64{0, 3}
		Expect(cfg.Validate()).To(Succeed())

		engine := EngineFromConfig(cfg)
		Expect(engine.ActionSet()).To(Equal([]int64{0, 3}))
	})
})

var _ = Describe("RunnerBuilder", func() {
	It("should panic when the engine is missing", func() {
		Expect(func() {
			MakeRunnerBuilder().
				WithReader(trace.NewReaderFrom(strings.NewReader(""))).
				WithSink(&discardSink{}).
				Build()
		}).To(Panic())
	})
})

type discardSink struct{}

func (discardSink) WritePrefetch(prefetch.Prefetch) error { return nil }
func (discardSink) Close() error                          { return nil }
