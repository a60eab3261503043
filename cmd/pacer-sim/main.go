// Command pacer-sim runs a scenario through the scheduler against a
// simulated collector and prints one line per completed cycle.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/inhies/go-bytesize"

	"github.com/mknyszek/gcsched"
	"github.com/mknyszek/gcsched/scenario"
	"github.com/mknyszek/gcsched/simulation"
)

var (
	genJSONFlag   *bool   = flag.Bool("json", false, "generate a JSON file instead of a CSV")
	configFlag    *string = flag.String("config", "", "file containing YAML scheduler configuration (optional, defaults used otherwise)")
	listFlag      *bool   = flag.Bool("l", false, "list available pacers")
	verboseFlag   *bool   = flag.Bool("v", false, "log scheduler decisions to stderr")
	thresholdFlag gcsched.Size
	flushFlag     gcsched.Size
)

func init() {
	flag.Var(&thresholdFlag, "threshold", "override the initial allocation threshold, e.g. 4MB")
	flag.Var(&flushFlag, "flush", "override the per-thread flush threshold, e.g. 16KB")
}

func run() error {
	flag.Parse()

	if *listFlag {
		fmt.Println(strings.Join(simulation.Simulators(), "\n"))
		return nil
	}

	if flag.NArg() != 2 {
		return fmt.Errorf("expected 2 arguments: pacer type and scenario file")
	}

	// Parse scenario.
	scnData, err := os.ReadFile(flag.Arg(1))
	if err != nil {
		return err
	}
	var scn scenario.Execution
	if err := json.Unmarshal(scnData, &scn); err != nil {
		return fmt.Errorf("unmarshalling scenario data: %v", err)
	}

	// Build the scheduler configuration.
	cfg := gcsched.DefaultConfig()
	if *configFlag != "" {
		cfg, err = gcsched.LoadConfig(*configFlag)
		if err != nil {
			return err
		}
	}
	// Simulated cycles take microseconds; a wall-clock timer only adds
	// noise.
	cfg.RegularInterval = 0
	if thresholdFlag != 0 {
		cfg.AllocationThreshold = thresholdFlag
	}
	if flushFlag != 0 {
		cfg.FlushThreshold = flushFlag
	}
	var logOut io.Writer = io.Discard
	if *verboseFlag {
		logOut = os.Stderr
	}
	cfg.Logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Pick a simulator and run it.
	s, err := simulation.NewSimulator(flag.Arg(0), cfg)
	if err != nil {
		return err
	}
	r, err := s.Run(&scn)
	if err != nil {
		return err
	}

	// Write output.
	if *genJSONFlag {
		results, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshalling results: %v", err)
		}
		fmt.Println(string(results))
	} else {
		printCSV(os.Stdout, r)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printCSV(w io.Writer, r []simulation.Result) {
	fmt.Fprintln(w, "Epoch,Allocated,Alive,Threshold,Triggers,Manual,Assist Waits,Assist Time (ns)")
	for i := range r {
		fmt.Fprintf(w, "%d,%s,%s,%s,%d,%d,%d,%d\n",
			r[i].Epoch,
			bytesize.ByteSize(r[i].AllocatedBytes),
			bytesize.ByteSize(r[i].AliveBytes),
			bytesize.ByteSize(r[i].Threshold),
			r[i].Triggers,
			r[i].ManualRequests,
			r[i].AssistWaits,
			r[i].AssistNanos,
		)
	}
}
