// Command orchestrator runs the task lifecycle: it claims intake work,
// supervises execution, routes approvals, and escalates failures.
// Inspection subcommands (status, search) and the human decision
// subcommands (approve, reject) operate on the same vault.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hammadnadeem/employeekit/audit"
	"github.com/hammadnadeem/employeekit/config"
	"github.com/hammadnadeem/employeekit/dashboard"
	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/orchestrate"
	"github.com/hammadnadeem/employeekit/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		args = []string{"serve"}
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:], stderr)
	case "once":
		return runOnce(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "approve":
		return runDecide(args[1:], stdout, stderr, true)
	case "reject":
		return runDecide(args[1:], stdout, stderr, false)
	case "search":
		return runSearch(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `usage: orchestrator <command> [flags]

commands:
  serve     run the dispatch loop until interrupted (default)
  once      run a single dispatch cycle
  status    print the dashboard projection
  approve   record a human approval: approve -id <id> [-by <name>] [-note <text>]
  reject    record a human rejection: reject -id <id> [-by <name>] [-note <text>]
  search    search the escalation journal: search <query>

common flags:
  -config    path to employee.toml
  -vault     vault root (overrides the config file)
  -dry-run   log intended actions without performing them
  -interval  poll interval (overrides the config file)`)
}

// loadConfig applies the common flag overrides on top of the file.
func loadConfig(configPath, vault string, interval time.Duration) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if vault != "" {
		cfg.Vault.Path = vault
	}
	if interval > 0 {
		cfg.Worker.PollInterval = config.Duration{Duration: interval}
	}
	return cfg, cfg.Validate()
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to employee.toml")
	vault := fs.String("vault", "", "vault root")
	interval := fs.Duration("interval", 0, "poll interval")
	dryRun := fs.Bool("dry-run", false, "log intended actions without performing them")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, *vault, *interval)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	o, err := orchestrate.FromConfig(cfg, orchestrate.WithDryRun(*dryRun))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer o.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := o.Serve(ctx); err != nil && err != context.Canceled {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func runOnce(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("once", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to employee.toml")
	vault := fs.String("vault", "", "vault root")
	dryRun := fs.Bool("dry-run", false, "log intended actions without performing them")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, *vault, 0)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	o, err := orchestrate.FromConfig(cfg, orchestrate.WithDryRun(*dryRun))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer o.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := o.RunOnce(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "cycle complete: resumed %d, dispatched %d\n", report.Resumed, report.Dispatched)
	for _, outcome := range report.Outcomes {
		fmt.Fprintf(stdout, "  %s -> %s (%d iterations, %s)\n",
			outcome.Descriptor.ID, outcome.Stage, outcome.Iterations, outcome.Elapsed.Round(time.Millisecond))
	}
	return 0
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to employee.toml")
	vault := fs.String("vault", "", "vault root")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, *vault, 0)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ts, err := store.NewDirStore(cfg.Vault.Path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer ts.Close()

	snap, err := dashboard.New(ts).Snapshot(context.Background())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprint(stdout, snap.RenderMarkdown())
	return 0
}

func runDecide(args []string, stdout, stderr io.Writer, approved bool) int {
	name := "reject"
	if approved {
		name = "approve"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to employee.toml")
	vault := fs.String("vault", "", "vault root")
	id := fs.String("id", "", "descriptor id")
	by := fs.String("by", "human", "who decided")
	note := fs.String("note", "", "decision note")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintf(stderr, "%s requires -id\n", name)
		return 2
	}

	cfg, err := loadConfig(*configPath, *vault, 0)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ts, err := store.NewDirStore(cfg.Vault.Path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer ts.Close()

	d, err := ts.Decide(context.Background(), *id, descriptor.ApprovalDecision{
		DescriptorID: *id,
		Approved:     approved,
		Actor:        *by,
		Note:         *note,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "%s: %s (%s) is now %s\n", name, d.ID, d.Summary, d.Stage)
	return 0
}

func runSearch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to employee.toml")
	vault := fs.String("vault", "", "vault root")
	limit := fs.Int("limit", 20, "maximum results")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "search requires a query")
		return 2
	}

	cfg, err := loadConfig(*configPath, *vault, 0)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	journal, err := audit.Open(filepath.Join(cfg.Vault.Path, "Logs"))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer journal.Close()

	records, err := journal.Search(context.Background(), fs.Arg(0), *limit)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "no records")
		return 0
	}
	for _, rec := range records {
		fmt.Fprintf(stdout, "%s  %-16s %-8s %s: %s\n",
			rec.At.Format(time.RFC3339), rec.Kind, rec.Severity, rec.DescriptorID, rec.Reason)
	}
	return 0
}
