// Command scenario-gen writes the built-in mutator workloads as JSON files
// that pacer-sim can run.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mknyszek/gcsched/scenario"
)

var (
	outputFlag  = flag.String("o", ".", "directory to write scenario files to")
	filterFlag  = flag.String("filter", "", "filter scenarios by name")
	listFlag    = flag.Bool("l", false, "list available scenarios")
	threadsFlag = flag.Int("threads", 0, "override the number of mutator threads (0 keeps the scenario's)")
	stepsFlag   = flag.Int("steps", 0, "truncate scenarios to this many steps (0 keeps all)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	names := scenario.Generators()
	if *listFlag {
		fmt.Println(strings.Join(names, "\n"))
		return nil
	}
	if *filterFlag != "" {
		r, err := regexp.Compile(*filterFlag)
		if err != nil {
			return fmt.Errorf("compiling filter regexp: %v", err)
		}
		filtered := make([]string, 0, len(names))
		for _, name := range names {
			if r.MatchString(name) {
				filtered = append(filtered, name)
			}
		}
		names = filtered
	}
	if len(names) == 0 {
		return fmt.Errorf("no scenario matches %q", *filterFlag)
	}
	if err := os.MkdirAll(*outputFlag, 0o755); err != nil {
		return err
	}
	for _, name := range names {
		ex, err := scenario.Generate(name)
		if err != nil {
			// Internal error.
			panic(err)
		}
		if *threadsFlag > 0 {
			ex.Globals.Threads = *threadsFlag
		}
		if *stepsFlag > 0 && len(ex.Steps) > *stepsFlag {
			ex.Steps = ex.Steps[:*stepsFlag]
		}
		path := filepath.Join(*outputFlag, name+".json")
		if err := writeScenario(&ex, path); err != nil {
			return fmt.Errorf("writing scenario to %q: %v", path, err)
		}
	}
	return nil
}

func writeScenario(ex *scenario.Execution, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	if err := enc.Encode(ex); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
