package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/user/bluelane/config"
	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/scenario"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to YAML config (defaults when empty)")
	scenarioPath := flag.String("scenario", "", "Path to scenario YAML file")
	builtin := flag.String("builtin", "", "Name of a built-in scenario")
	journalPath := flag.String("journal", "", "Write a CBOR journal to this path (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	reportDir := flag.String("report", "", "Also write a markdown report into this directory")
	list := flag.Bool("list", false, "List built-in scenarios and exit")
	flag.Parse()

	if *list {
		for _, name := range scenario.Builtin() {
			fmt.Println(name)
		}
		return 0
	}

	if (*scenarioPath == "") == (*builtin == "") {
		fmt.Println("Usage: bluelane-sim [-config cfg.yaml] (-scenario <path> | -builtin <name>)")
		fmt.Printf("\nBuilt-in scenarios: %s\n", strings.Join(scenario.Builtin(), ", "))
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *journalPath != "" {
		cfg.Journal.Path = *journalPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config:\n%v", err)
	}

	closeLog, err := logger.Configure(cfg.LoggerOptions())
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	defer closeLog()

	var s *scenario.Scenario
	if *builtin != "" {
		s, err = scenario.LoadBuiltin(*builtin)
	} else {
		s, err = scenario.LoadScenario(*scenarioPath)
	}
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}

	fmt.Printf("=== Running Scenario: %s ===\n", s.Name)
	fmt.Printf("Description: %s\n", strings.TrimSpace(s.Description))
	fmt.Printf("Centrals: %d\n", len(s.Centrals))
	fmt.Printf("Events: %d\n", len(s.Timeline))
	fmt.Printf("Duration: %v\n\n", s.Duration())

	if errs := s.Validate(); len(errs) > 0 {
		fmt.Println("❌ Scenario validation failed:")
		for _, e := range errs {
			fmt.Printf("  - %s\n", e)
		}
		return 1
	}

	var extra journal.Journal
	if cfg.Journal.Path != "" {
		fj, err := journal.OpenFile(cfg.Journal.Path)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer fj.Close()
		extra = fj
	}

	runner := scenario.NewRunner(s, cfg, extra)
	fmt.Println("Setting up devices...")
	if err := runner.Setup(); err != nil {
		logger.Error("sim", "❌ setup: %v", err)
		return 1
	}
	defer runner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("Executing timeline...")
	if err := runner.Run(ctx); err != nil {
		logger.Error("sim", "❌ run: %v", err)
		return 1
	}

	fmt.Println("\nChecking assertions...")
	results := runner.CheckAssertions()
	runner.PrintReport(os.Stdout)

	if *reportDir != "" {
		path, err := runner.WriteMarkdownReport(*reportDir)
		if err != nil {
			logger.Warn("sim", "⚠️  report: %v", err)
		} else {
			fmt.Printf("\nReport written to %s\n", path)
		}
	}
	if cfg.Journal.Path != "" {
		fmt.Printf("\nJournal written to %s\n", cfg.Journal.Path)
	}

	if scenario.Passed(results) {
		fmt.Println("\n✅ All assertions passed!")
		return 0
	}
	fmt.Println("\n❌ Some assertions failed")
	return 1
}
