package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/ivlev/shadowmosh/internal/config"
	"github.com/ivlev/shadowmosh/internal/effects"
	"github.com/ivlev/shadowmosh/internal/engine"
	"github.com/ivlev/shadowmosh/internal/system"
)

func main() {
	// Parallel chunk workers keep many streams open.
	system.InitResourceLimits()

	configPtr := flag.String("config", "shadowmosh.yaml", "Path to the project YAML")
	stagePtr := flag.String("stage", "all", "Comma separated stages: interweave, glitch, iframes, motion, outro, render, credits")
	workersPtr := flag.Int("workers", 0, "Worker count (0: sized to CPUs and memory)")
	statsPtr := flag.Bool("stats", false, "Print a per-stage timing report")
	verbosePtr := flag.Bool("v", false, "Debug logging")
	templatePtr := flag.String("credits-template", "", "Write an example credits script to this path and exit")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: !term.IsTerminal(int(os.Stderr.Fd())),
	})
	if *verbosePtr {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *templatePtr != "" {
		if err := effects.WriteCredits(effects.ExampleCredits(), *templatePtr); err != nil {
			logrus.Fatalf("[-] Cannot write credits template: %v", err)
		}
		fmt.Printf("[+] Credits template: %s\n", *templatePtr)
		return
	}

	cfg, err := config.Load(*configPtr)
	if err != nil {
		logrus.Fatalf("[-] Config error: %v", err)
	}
	if *workersPtr > 0 {
		cfg.Workers = *workersPtr
	}

	stages, err := engine.ParseStages(*stagePtr)
	if err != nil {
		logrus.Fatalf("[-] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	project := engine.NewProject(cfg)
	project.ShowStats = *statsPtr
	if err := project.Run(ctx, stages); err != nil {
		stop()
		logrus.Fatalf("[-] Project error: %v", err)
	}

	fmt.Printf("[+++] Done: %s\n", *stagePtr)
}
