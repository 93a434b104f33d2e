package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tracehub/internal/app"
	"tracehub/internal/clock"
	"tracehub/internal/config"
)

// main starts the supervision hub using file or directory config source.
// Params: CLI flags (--config-file or --config-dir).
// Returns: exit code 2 on config errors, 1 on startup or run errors.
func main() {
	var (
		configFile = flag.String("config-file", "", "path to one TOML config file")
		configDir  = flag.String("config-dir", "", "path to directory with TOML config fragments")
	)
	flag.Parse()

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "invalid config:", err.Error())
		os.Exit(2)
	}

	service, err := app.NewService(cfg, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
