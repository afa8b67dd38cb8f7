// -----------------------------------------------------------------------
// mitto - job scheduling service for long-running generative work
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/mitto/internal/app"
	"github.com/ternarybob/mitto/internal/common"
)

// configFlags collects repeated -config flags
type configFlags []string

func (c *configFlags) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configFlags) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func main() {
	var configs configFlags
	flag.Var(&configs, "config", "Path to TOML config file (repeatable; later files override earlier)")
	port := flag.Int("port", 0, "Override server port")
	host := flag.String("host", "", "Override server host")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	version := common.LoadVersionFromFile()
	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	config, err := common.LoadFromFiles(configs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *port, *host)

	logger := common.InitLogger(config)
	common.PrintBanner(version)

	logger.Info().
		Str("version", version).
		Str("environment", config.Environment).
		Msg("Starting mitto")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, config)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize")
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start")
		application.Stop()
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")

	application.Stop()
}
