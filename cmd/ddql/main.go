// ddql is an interactive Datadog query console with the same
// autocomplete behavior as the Grafana query editor.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"github.com/wasilak/datadog-datasource/internal/tui"
	"github.com/wasilak/datadog-datasource/pkg/ddapi"
)

func main() {
	site := flag.String("site", os.Getenv("DD_SITE"), "Datadog site (default datadoghq.com, env DD_SITE)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ddql [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Credentials are read from DD_API_KEY and DD_APP_KEY.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	slog.SetDefault(logger)

	apiKey := os.Getenv("DD_API_KEY")
	appKey := os.Getenv("DD_APP_KEY")
	if apiKey == "" || appKey == "" {
		logger.Error("missing credentials", "hint", "set DD_API_KEY and DD_APP_KEY")
		os.Exit(2)
	}

	client := ddapi.NewClient(ddapi.Config{
		APIKey: apiKey,
		AppKey: appKey,
		Site:   *site,
	})

	if err := tui.Run(client); err != nil {
		logger.Error("console exited with error", "error", err)
		os.Exit(1)
	}
}
