package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/chzyer/readline"

	"github.com/user/bluelane/config"
	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/scenario"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults when empty)")
	peripheralID := flag.String("peripheral", "peripheral", "Id of the hosted peripheral")
	journalPath := flag.String("journal", "", "Also write a CBOR journal to this path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config:\n%v", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bluelane> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatalf("Failed to create readline: %v", err)
	}
	defer rl.Close()

	// Log through readline so output does not tear the prompt.
	opts := cfg.LoggerOptions()
	if opts.Output == "" || opts.Output == "stdout" || opts.Output == "stderr" {
		logger.SetOutput(rl.Stderr(), opts.Format)
		logger.SetLevel(logger.ParseLevel(opts.Level))
	} else {
		closeLog, err := logger.Configure(opts)
		if err != nil {
			log.Fatalf("Failed to configure logging: %v", err)
		}
		defer closeLog()
	}

	var extra journal.Journal
	path := *journalPath
	if path == "" {
		path = cfg.Journal.Path
	}
	if path != "" {
		fj, err := journal.OpenFile(path)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer fj.Close()
		extra = fj
	}

	out := rl.Stdout()
	bench, err := scenario.NewBench(cfg, *peripheralID, extra, func(device, eventType, message string) {
		fmt.Fprintf(out, "  [%s] %s: %s\n", shortID(device), eventType, message)
	})
	if err != nil {
		log.Fatalf("Failed to start peripheral: %v", err)
	}
	defer bench.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	console := NewConsole(bench, out)
	console.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			return
		}
		if console.Execute(line) {
			fmt.Fprintln(out, "Exiting...")
			return
		}
		rl.SetPrompt(console.Prompt())
	}
}
