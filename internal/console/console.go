// Package console provides an interactive readline prompt for inspecting a
// running pipeline.
package console

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/bmsctl/internal/acquisition"
	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/fanout"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"github.com/chzyer/readline"
)

const (
	Prompt         = "bmsctl> "
	defaultHistory = 10
	maxHistory     = 1000
)

const (
	ErrInit           = errors.ErrorCode("console_init_failed")
	ErrUnknownCommand = errors.ErrorCode("console_unknown_command")
	ErrUsage          = errors.ErrorCode("console_usage")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrInit:           "Failed to initialize console",
		ErrUnknownCommand: "Unknown command",
		ErrUsage:          "Invalid command usage",
	})
}

// Querier reads back persisted samples.
type Querier interface {
	Query(ctx context.Context, limit int, newestFirst bool) ([]telemetry.Sample, error)
}

type LoopStats interface {
	Stats() acquisition.Stats
}

type FanoutStats interface {
	Stats() fanout.Stats
	Subscribers() []fanout.Handle
}

// Deps are the pipeline parts the console reads from. Any may be nil.
type Deps struct {
	History Querier
	Loop    LoopStats
	Fanout  FanoutStats
}

// Console is a line-oriented prompt. Log output routed through Writer is
// printed above the prompt without corrupting the line being edited.
type Console struct {
	deps Deps
	w    *lineWriter
}

func New(deps Deps) *Console {
	return &Console{
		deps: deps,
		w:    &lineWriter{out: os.Stdout},
	}
}

// Writer returns an io.Writer that cooperates with the prompt.
func (c *Console) Writer() io.Writer {
	return c.w
}

// Run reads commands until ctx is done, "quit" is entered, or the input is
// closed. Ctrl+C calls cancel so the whole process shuts down.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return errors.New().Wrap(ErrInit, err)
	}
	c.w.attach(rl)
	defer func() {
		c.w.attach(nil)
		_ = rl.Close()
	}()

	fmt.Fprintln(c.w, "Console ready (type 'help' for commands)")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := rl.Readline()
			if stderrors.Is(err, readline.ErrInterrupt) {
				cancel()
				return
			}
			if err != nil {
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.Handle(ctx, line, c.w); quit {
				cancel()
				return nil
			}
		}
	}
}

// Handle executes one command line and reports whether the user asked to quit.
func (c *Console) Handle(ctx context.Context, line string, out io.Writer) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	var err error
	switch parts[0] {
	case "latest":
		err = c.latest(ctx, out)
	case "history":
		err = c.history(ctx, parts[1:], out)
	case "stats":
		c.stats(out)
	case "subs":
		c.subs(out)
	case "help", "?":
		help(out)
	case "quit", "exit":
		return true
	default:
		err = errors.New().WithData(ErrUnknownCommand, parts[0])
	}

	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		if errors.HasCode(err, ErrUnknownCommand) {
			fmt.Fprintln(out, "try 'help'")
		}
	}
	return false
}

func (c *Console) latest(ctx context.Context, out io.Writer) error {
	if c.deps.Loop != nil {
		if s := c.deps.Loop.Stats().LastSample; !s.Timestamp.IsZero() {
			printSample(out, s)
			return nil
		}
	}
	if c.deps.History == nil {
		fmt.Fprintln(out, "no samples yet")
		return nil
	}
	rows, err := c.deps.History.Query(ctx, 1, true)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no samples yet")
		return nil
	}
	printSample(out, rows[0])
	return nil
}

func (c *Console) history(ctx context.Context, args []string, out io.Writer) error {
	n := defaultHistory
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 || v > maxHistory {
			return errors.New().WithData(ErrUsage, fmt.Sprintf("history [1-%d]", maxHistory))
		}
		n = v
	}
	if c.deps.History == nil {
		fmt.Fprintln(out, "history is disabled")
		return nil
	}

	rows, err := c.deps.History.Query(ctx, n, true)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no samples yet")
		return nil
	}

	fmt.Fprintf(out, "%-12s %8s %8s %8s %8s %7s %6s  %s\n",
		"TIME", "BATT V", "LOAD V", "CURR A", "POWER W", "TEMP", "HUM", "STATUS")
	for _, s := range rows {
		fmt.Fprintf(out, "%-12s %8.2f %8.2f %8.3f %8.2f %7s %6s  %s\n",
			s.Timestamp.Local().Format("15:04:05.000"),
			s.BatteryVoltage, s.LoadVoltage, s.Current, s.Power,
			optional(s.Temperature, "%.1f"), optional(s.Humidity, "%.0f"),
			s.Status.Words())
	}
	return nil
}

func (c *Console) stats(out io.Writer) {
	if c.deps.Loop != nil {
		st := c.deps.Loop.Stats()
		fmt.Fprintf(out, "acquisition: state=%s cycles=%d skipped=%d panics=%d\n",
			st.State, st.Cycles, st.Skipped, st.Panics)
	}
	if c.deps.Fanout != nil {
		st := c.deps.Fanout.Stats()
		fmt.Fprintf(out, "fanout: published=%d subscribers=%d lost=%d\n",
			st.Published, st.Subscribers, st.SubscribersLost)
		fmt.Fprintf(out, "storage: failures=%d dropped=%d\n", st.StoreFailures, st.StoreDropped)
		fmt.Fprintf(out, "alerts: sent=%d failures=%d dropped=%d\n",
			st.AlertsSent, st.AlertFailures, st.AlertsDropped)
	}
}

func (c *Console) subs(out io.Writer) {
	if c.deps.Fanout == nil {
		fmt.Fprintln(out, "no fan-out")
		return
	}
	handles := c.deps.Fanout.Subscribers()
	if len(handles) == 0 {
		fmt.Fprintln(out, "no subscribers")
		return
	}
	for _, h := range handles {
		fmt.Fprintln(out, h)
	}
}

func help(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  latest        - Show the most recent sample")
	fmt.Fprintf(out, "  history [n]   - Show the last n stored samples (default %d)\n", defaultHistory)
	fmt.Fprintln(out, "  stats         - Show acquisition and fan-out counters")
	fmt.Fprintln(out, "  subs          - List attached live subscribers")
	fmt.Fprintln(out, "  help          - Show this help")
	fmt.Fprintln(out, "  quit          - Stop monitoring and exit")
}

func printSample(out io.Writer, s telemetry.Sample) {
	fmt.Fprint(out, s.Detail())
}

func optional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func historyFile() string {
	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".cache")
	}
	dir = filepath.Join(dir, "bmsctl")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return ""
	}
	return filepath.Join(dir, "console_history")
}

// lineWriter clears the prompt before writing and redraws it afterwards.
type lineWriter struct {
	mu  sync.Mutex
	rl  *readline.Instance
	out io.Writer
}

func (w *lineWriter) attach(rl *readline.Instance) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rl = rl
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rl != nil {
		w.rl.Clean()
		defer w.rl.Refresh()
	}
	return w.out.Write(p)
}
