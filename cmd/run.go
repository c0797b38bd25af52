package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/qfetch/config"
	"github.com/sarchlab/qfetch/datarecording"
	"github.com/sarchlab/qfetch/monitoring"
	"github.com/sarchlab/qfetch/output"
	"github.com/sarchlab/qfetch/prefetch"
	"github.com/sarchlab/qfetch/replay"
	"github.com/sarchlab/qfetch/trace"
)

var (
	configPath  string
	monitorOn   bool
	monitorPort int
	openBrowser bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a trace through the prefetcher.",
	Long: "`run` loads the configuration, replays the configured trace " +
		"through the learning engine, and writes the predicted prefetches.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fatalf("Error: %s", err)
		}

		if err := cfg.Validate(); err != nil {
			fatalf("Error: invalid configuration: %s", err)
		}

		runReplay(cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "./config.json",
		"path to the configuration file")
	runCmd.Flags().BoolVar(&monitorOn, "monitor", false,
		"serve live engine state over HTTP while replaying")
	runCmd.Flags().IntVar(&monitorPort, "monitor-port", 0,
		"port for the monitoring server, 0 picks a random port")
	runCmd.Flags().BoolVar(&openBrowser, "open-browser", false,
		"open the monitoring page in a browser")

	rootCmd.AddCommand(runCmd)
}

func runReplay(cfg config.Config) {
	reader, err := trace.NewReader(cfg.Trace.TracePath())
	if err != nil {
		fatalf("Error: %s", err)
	}
	defer reader.Close()

	engine := replay.EngineFromConfig(cfg)

	sink, recorder := buildSinks(cfg)
	defer sink.Close()

	builder := replay.MakeRunnerBuilder().
		WithEngine(engine).
		WithReader(reader).
		WithSink(sink).
		WithRecorder(recorder)

	if monitorOn {
		monitor := monitoring.NewMonitor().WithPortNumber(monitorPort)
		if openBrowser {
			monitor = monitor.WithBrowser()
		}
		monitor.RegisterEngine(engine)
		monitor.StartServer()

		builder = builder.WithMonitor(monitor)
	}

	start := time.Now()
	if err := builder.Build().Run(); err != nil {
		fatalf("Error: %s", err)
	}

	printSummary(engine.Stats(), reader.Skipped(), time.Since(start))
}

func buildSinks(cfg config.Config) (output.Sink, datarecording.DataRecorder) {
	writer := output.NewFileWriter(cfg.Output.OutputDir, cfg.Output.OutputFile)

	if !cfg.Output.RecordDB {
		return writer, nil
	}

	dbPath := filepath.Join(cfg.Output.OutputDir,
		fmt.Sprintf("qfetch_%d", time.Now().Unix()))
	recorder := datarecording.NewDataRecorder(dbPath)

	return output.NewTee(writer, output.NewRecorderSink(recorder)), recorder
}

func printSummary(
	s prefetch.Stats,
	skippedLines int,
	elapsed time.Duration,
) {
	fmt.Printf("events replayed:    %d (%d malformed lines skipped)\n",
		s.Events, skippedLines)
	fmt.Printf("prefetches issued:  %d\n", s.PrefetchesIssued)
	fmt.Printf("useful prefetches:  %d timely, %d late\n", s.Hits, s.LateHits)
	fmt.Printf("wasted prefetches:  %d expired, %d dropped, %d forfeited\n",
		s.Expired, s.DroppedPending, s.Forfeited)
	fmt.Printf("learned rows:       %d over %d contexts\n", s.Rows, s.Contexts)
	fmt.Printf("elapsed:            %s\n", elapsed.Round(time.Millisecond))
}
