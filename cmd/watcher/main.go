// Command watcher runs the producer side: it polls a drop folder for
// new work items, classifies them, and creates them in the vault's
// intake stage for the orchestrator to claim.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hammadnadeem/employeekit/config"
	"github.com/hammadnadeem/employeekit/policy"
	"github.com/hammadnadeem/employeekit/store"
	"github.com/hammadnadeem/employeekit/watch"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watcher", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to employee.toml")
	vault := fs.String("vault", "", "vault root")
	drop := fs.String("drop", "", "drop folder to watch (default <vault>/Inbox)")
	interval := fs.Duration("interval", 15*time.Second, "poll interval")
	once := fs.Bool("once", false, "collect once and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if *vault != "" {
		cfg.Vault.Path = *vault
	}
	if *drop == "" {
		*drop = cfg.Vault.Path + "/Inbox"
	}

	ts, err := store.NewDirStore(cfg.Vault.Path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer ts.Close()

	rules := policy.DefaultRules()
	if cfg.Policy.RulesFile != "" {
		rules, err = policy.LoadRules(cfg.Policy.RulesFile)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	ledger := policy.NewMemoryLedger(cfg.Policy.KnownCounterparties...)
	engine := policy.NewEngine(rules, ledger)

	folder, err := watch.NewDropFolder(*drop)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	w := watch.New(ts, engine, []watch.Source{folder}, watch.WithLedger(ledger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		created, err := w.RunOnce(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "ingested %d items from %s\n", created, *drop)
		return 0
	}

	if err := w.Run(ctx, *interval); err != nil && err != context.Canceled {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
