// Command montaged runs the montage composition daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"montage/internal/config"
	"montage/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	logLevel := flag.String("log-level", "", "override configured log level")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "montaged: %v\n", err)
		os.Exit(1)
	}
}
