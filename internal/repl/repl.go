// Package repl is the interactive review queue: an analyst walks the
// canonical records flagged needs_review and confirms, rejects or defers
// each one. Decisions go to a checkpoint.DecisionStore; records themselves
// are never modified.
package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
	"github.com/steveyegge/dealfinder/internal/types"
)

// REPL represents the interactive review shell
type REPL struct {
	store    checkpoint.DecisionStore
	queue    *Queue
	rl       *readline.Instance
	ctx      context.Context
	out      io.Writer
	reviewer string
	history  string
	now      func() time.Time
	commands map[string]CommandHandler
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

// Config holds REPL configuration
type Config struct {
	Store    checkpoint.DecisionStore
	Records  []*types.DealRecord
	Reviewer string

	// All includes records that already have a decision
	All bool

	// Out defaults to stdout
	Out io.Writer

	// HistoryFile persists readline history; empty keeps it in memory
	HistoryFile string
}

// New creates a new REPL instance
func New(ctx context.Context, cfg *Config) (*REPL, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("decision store is required")
	}
	decisions, err := cfg.Store.Decisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load review decisions: %w", err)
	}

	reviewer := cfg.Reviewer
	if reviewer == "" {
		reviewer = "analyst"
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	r := &REPL{
		store:    cfg.Store,
		queue:    NewQueue(cfg.Records, decisions, !cfg.All),
		ctx:      ctx,
		out:      out,
		reviewer: reviewer,
		history:  cfg.HistoryFile,
		now:      func() time.Time { return time.Now().UTC() },
		commands: make(map[string]CommandHandler),
	}
	r.registerCommands()
	return r, nil
}

// Queue returns the review queue.
func (r *REPL) Queue() *Queue {
	return r.queue
}

// Run starts the REPL loop
func (r *REPL) Run() error {
	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("review> "),
		HistoryFile:       r.history,
		AutoComplete:      r.completer(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	r.printWelcome()
	if cur := r.queue.Current(); cur != nil {
		r.show(cur)
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				// Ctrl+C - just show prompt again
				continue
			} else if err == io.EOF {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := r.processInput(line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
		}
	}
}

// processInput processes a single line of input
func (r *REPL) processInput(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	if handler, ok := r.commands[strings.ToLower(parts[0])]; ok {
		return handler(parts[1:])
	}
	return fmt.Errorf("unknown command %q (type 'help')", parts[0])
}

// registerCommands registers all built-in commands
func (r *REPL) registerCommands() {
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["list"] = r.cmdList
	r.commands["ls"] = r.cmdList
	r.commands["show"] = r.cmdShow
	r.commands["next"] = r.cmdNext
	r.commands["n"] = r.cmdNext
	r.commands["confirm"] = r.decide(types.DecisionConfirmed)
	r.commands["c"] = r.decide(types.DecisionConfirmed)
	r.commands["reject"] = r.decide(types.DecisionRejected)
	r.commands["r"] = r.decide(types.DecisionRejected)
	r.commands["defer"] = r.decide(types.DecisionDeferred)
	r.commands["d"] = r.decide(types.DecisionDeferred)
	r.commands["stats"] = r.cmdStats
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
}

func (r *REPL) completer() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, name := range []string{"help", "list", "show", "next", "confirm", "reject", "defer", "stats", "exit"} {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

// printWelcome prints the welcome message
func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("Deal review queue"))
	fmt.Fprintf(r.out, "%d records need review\n", r.queue.Len())
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'exit' to quit")
	fmt.Fprintln(r.out)
}

// cmdHelp shows help information
func (r *REPL) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Available Commands:"))

	commands := []struct {
		name string
		desc string
	}{
		{"list, ls", "List queued records"},
		{"show [n]", "Show the current record, or record n"},
		{"next, n", "Move to the next record"},
		{"confirm, c [note]", "Confirm the current record"},
		{"reject, r [note]", "Reject the current record"},
		{"defer, d [note]", "Defer the current record"},
		{"stats", "Show decision counts"},
		{"help, ?", "Show this help message"},
		{"exit, quit", "Exit the review queue"},
	}
	for _, cmd := range commands {
		fmt.Fprintf(r.out, "  %-20s %s\n", green(cmd.name), cmd.desc)
	}
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdList(args []string) error {
	if r.queue.Len() == 0 {
		fmt.Fprintln(r.out, "Nothing to review")
		return nil
	}
	for i, rec := range r.queue.Items() {
		marker := " "
		if i == r.queue.Pos() {
			marker = ">"
		}
		status := "pending"
		if d, ok := r.queue.Decision(rec); ok {
			status = string(d.Decision)
		}
		fmt.Fprintf(r.out, "%s %3d  %s  %s / %s  [%s]\n", marker, i+1,
			rec.DateAnnounced.Format(types.DateLayout), rec.Acquirer, rec.Target, status)
	}
	return nil
}

func (r *REPL) cmdShow(args []string) error {
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || !r.queue.Seek(n-1) {
			return fmt.Errorf("no record %q", args[0])
		}
	}
	cur := r.queue.Current()
	if cur == nil {
		fmt.Fprintln(r.out, "End of queue")
		return nil
	}
	r.show(cur)
	return nil
}

func (r *REPL) cmdNext(args []string) error {
	if !r.queue.Advance() {
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(r.out, "%s End of queue\n", green("✓"))
		return nil
	}
	r.show(r.queue.Current())
	return nil
}

// decide returns a handler that stores verdict for the current record and
// moves on.
func (r *REPL) decide(verdict types.Decision) CommandHandler {
	return func(args []string) error {
		cur := r.queue.Current()
		if cur == nil {
			return fmt.Errorf("no record selected")
		}
		d := types.ReviewDecision{
			CanonicalKey: cur.CanonicalKey(),
			Decision:     verdict,
			Note:         strings.Join(args, " "),
			Reviewer:     r.reviewer,
			DecidedAt:    r.now(),
		}
		if err := r.store.SaveDecision(r.ctx, d); err != nil {
			return fmt.Errorf("failed to save decision: %w", err)
		}
		r.queue.Record(d)

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(r.out, "%s %s: %s / %s\n", green("✓"), verdict, cur.Acquirer, cur.Target)
		return r.cmdNext(nil)
	}
}

func (r *REPL) cmdStats(args []string) error {
	counts := r.queue.Counts()
	decided := 0
	for _, n := range counts {
		decided += n
	}
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("Review Status"))
	fmt.Fprintf(r.out, "  confirmed  %d\n", counts[types.DecisionConfirmed])
	fmt.Fprintf(r.out, "  rejected   %d\n", counts[types.DecisionRejected])
	fmt.Fprintf(r.out, "  deferred   %d\n", counts[types.DecisionDeferred])
	fmt.Fprintf(r.out, "  pending    %d\n\n", r.queue.Len()-decided)
	return nil
}

// cmdExit exits the REPL
func (r *REPL) cmdExit(args []string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s Goodbye!\n", green("✓"))
	if r.rl != nil {
		r.rl.Close()
	}
	return io.EOF // Signal to exit the loop
}

func (r *REPL) show(rec *types.DealRecord) {
	yellow := color.New(color.FgYellow).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(r.out, "\n[%d/%d] %s\n", r.queue.Pos()+1, r.queue.Len(), bold(rec.Acquirer+" / "+rec.Target))
	fmt.Fprintf(r.out, "  Date:      %s\n", rec.DateAnnounced.Format(types.DateLayout))
	fmt.Fprintf(r.out, "  Type:      %s\n", rec.DealType)
	fmt.Fprintf(r.out, "  Stage:     %s\n", rec.Stage)
	fmt.Fprintf(r.out, "  Asset:     %s\n", rec.AssetFocus)
	fmt.Fprintf(r.out, "  Area:      %s\n", rec.TherapeuticArea)
	if rec.Money.TotalUSD != nil {
		fmt.Fprintf(r.out, "  Total:     $%.1fM\n", *rec.Money.TotalUSD)
	}
	fmt.Fprintf(r.out, "  Source:    %s\n", rec.SourceURL)
	for _, u := range rec.RelatedURLs {
		fmt.Fprintf(r.out, "  Related:   %s\n", u)
	}
	for _, reason := range rec.ReviewReasons {
		fmt.Fprintf(r.out, "  %s %s\n", yellow("⚠"), reason)
	}
	if d, ok := r.queue.Decision(rec); ok {
		fmt.Fprintf(r.out, "  Decision:  %s %s\n", d.Decision, d.Note)
	}
	fmt.Fprintln(r.out)
}
