// cmd/consoled/main.go
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/celestia-island/aoba-sub003/internal/config"
	"github.com/celestia-island/aoba-sub003/internal/ports"
	"github.com/celestia-island/aoba-sub003/internal/runtime"
	"github.com/celestia-island/aoba-sub003/internal/status"
	"github.com/celestia-island/aoba-sub003/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "consoled.yaml", "Path to the YAML configuration file")
	logPath := flag.String("log", "consoled.log", "Path to the runtime log file")
	automation := flag.String("automation", "", "Automation endpoint base to attach to (JSON-line side channel)")
	flag.Parse()

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	// --------------------
	// Logging setup
	// --------------------

	logFile, err := os.OpenFile(*logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer logFile.Close()
	logger := log.New(logFile, "", log.LstdFlags|log.Lmicroseconds)

	// --------------------
	// Build runtime
	// --------------------

	statusDir := cfg.Console.StatusDir
	if statusDir == "" {
		statusDir = "status"
	}
	sw, err := status.NewWriter(statusDir)
	if err != nil {
		log.Fatalf("status writer failed: %v", err)
	}

	reg := ports.NewRegistry(time.Duration(config.DefaultTimeoutMs) * time.Millisecond)
	mgr := worker.NewManager(logger)

	loop := runtime.NewLoop(&cfg.Console, reg, mgr, sw, logger, runtime.Hooks{})

	// --------------------
	// Signals → quit command
	// --------------------

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		_ = loop.Post(runtime.Command{Kind: runtime.CmdQuit})
	}()

	// --------------------
	// Optional automation side channel
	// --------------------

	if *automation != "" {
		go runAutomation(*automation, loop, logger)
	}

	_ = loop.Post(runtime.Command{Kind: runtime.CmdRescan})
	loop.Run()
}
