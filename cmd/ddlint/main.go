// ddlint validates the Datadog metric queries embedded in monitor and
// dashboard YAML manifests, without talking to the Datadog API. The exit
// code is the number of invalid queries found.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ddlint [flags] <file.yaml> [...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))

	failures := 0
	for _, path := range flag.Args() {
		findings, err := lintFile(path)
		if err != nil {
			logger.Error("failed to lint file", "file", path, "error", err)
			failures++
			continue
		}
		for _, f := range findings {
			if len(f.problems) == 0 {
				logger.Debug("query ok", "file", path, "query", f.query)
				continue
			}
			failures++
			for _, p := range f.problems {
				logger.Error("invalid query",
					"file", path,
					"query", f.query,
					"problem", p.Message,
					"fix", p.Fix)
			}
		}
	}

	if failures == 0 {
		logger.Info("all queries valid")
	}
	os.Exit(failures)
}
