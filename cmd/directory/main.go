// The directory binary runs the rendezvous service hosts register with
// and clients query for room codes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap/zapcore"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/directory"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		port        = flag.Int("port", directory.DefaultPort, "UDP port to listen on")
		noRelay     = flag.Bool("no-relay", false, "refuse relay requests")
		forceDirect = flag.Bool("force-direct", false, "serve direct connections only (implies -no-relay)")
		forceNAT    = flag.Bool("force-nat", false, "reserved; punchthrough is not implemented")
		forceRelay  = flag.Bool("force-relay", false, "hide host addresses so every session relays")
		httpAddr    = flag.String("http", "", "serve diagnostics on this address (e.g. 127.0.0.1:8889)")
		logFile     = flag.String("log-file", "", "mirror log lines into this rolling file")
		verbose     = flag.Bool("verbose", false, "log at debug level")
	)
	flag.Parse()

	if *forceDirect && *forceRelay {
		fmt.Fprintln(os.Stderr, "-force-direct and -force-relay are mutually exclusive")
		return 1
	}

	logCfg := logging.DefaultConfig()
	logCfg.FilePath = *logFile
	if *verbose {
		logCfg.Level = zapcore.DebugLevel
	}
	log, flush := logging.New(logCfg)
	defer flush()

	cfg := directory.DefaultConfig()
	cfg.Port = *port
	cfg.RelayEnabled = !*noRelay && !*forceDirect
	cfg.ForceRelay = *forceRelay
	cfg.ForceNAT = *forceNAT
	cfg.HTTPAddr = *httpAddr
	cfg.Logger = log

	srv, err := directory.New(cfg)
	if err != nil {
		log.Errorw("directory start failed", "error", err)
		return 1
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Errorw("directory stopped", "error", err)
		return 1
	}
	log.Infow("directory shut down")
	return 0
}
