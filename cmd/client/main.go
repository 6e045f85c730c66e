package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/willibrandon/tusk-sub004/internal/history"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
	"github.com/willibrandon/tusk-sub004/internal/sql/parser"
	"github.com/willibrandon/tusk-sub004/server/tuskwire"
	"github.com/willibrandon/tusk-sub004/sqlclient"
)

const (
	prompt     = "tusk> "
	contPrompt = "...> "

	// requestTimeout bounds the short control requests (cancel, running,
	// history). Queries themselves are bounded by the server side timeout.
	requestTimeout = 5 * time.Second
)

type cmdClient struct {
	flagAddr       string
	flagTimeout    time.Duration
	flagConnection string
	flagMode       string
	flagHistory    string
	flagHistoryMax int
	flagCommand    string
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".tusk_history"
	}
	return filepath.Join(home, ".tusk_history")
}

func (c *cmdClient) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "tusk"
	cmd.Short = "Interactive shell for a tusk server"
	cmd.Long = `Description:
  Interactive shell for a tusk server

  Statements end with ';' and may span several lines. Press Ctrl+C while a
  query runs to cancel it. Type \help for the meta commands.
`
	cmd.SilenceUsage = true
	cmd.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run

	cmd.Flags().StringVar(&c.flagAddr, "addr", "127.0.0.1:8866", "Server address")
	cmd.Flags().DurationVar(&c.flagTimeout, "timeout", 3*time.Second, "Dial timeout")
	cmd.Flags().StringVarP(&c.flagConnection, "connection", "d", "main", "Connection id to run queries on")
	cmd.Flags().StringVar(&c.flagMode, "mode", string(tuskwire.ModeInteractive), "Execution mode (interactive or bulk)")
	cmd.Flags().StringVar(&c.flagHistory, "history", defaultHistoryPath(), "History file path")
	cmd.Flags().IntVar(&c.flagHistoryMax, "history-max", history.DefaultMaxEntries, "Max history lines loaded into memory")
	cmd.Flags().StringVarP(&c.flagCommand, "command", "c", "", "Execute the given SQL and exit")

	return cmd
}

func parseMode(s string) (tuskwire.Mode, error) {
	switch m := tuskwire.Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case tuskwire.ModeInteractive, tuskwire.ModeBulk:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

func (c *cmdClient) Run(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(c.flagMode)
	if err != nil {
		return err
	}

	cli, err := sqlclient.Dial(c.flagAddr, c.flagTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = cli.Close() }()

	sh := &shell{
		cli:        cli,
		out:        cmd.OutOrStdout(),
		connection: c.flagConnection,
		mode:       mode,
		lines:      history.NewLines(c.flagHistory),
	}

	if strings.TrimSpace(c.flagCommand) != "" {
		return sh.run(context.Background(), c.flagCommand)
	}

	_ = sh.lines.Load(c.flagHistoryMax)
	return sh.repl(c.flagAddr)
}

// ---- shell ----

type shell struct {
	cli        *sqlclient.Client
	out        io.Writer
	connection string
	mode       tuskwire.Mode
	lines      *history.Lines
}

func (s *shell) query(sql string) sqlclient.Query {
	return sqlclient.Query{ConnectionID: s.connection, SQL: sql, Mode: s.mode}
}

// run executes the statements of sql. A single statement is streamed and can
// be cancelled with Ctrl+C; several statements run as one batch.
func (s *shell) run(ctx context.Context, sql string) error {
	stmts := parser.Split(sql)
	switch len(stmts) {
	case 0:
		return nil
	case 1:
		return s.stream(ctx, stmts[0])
	}

	outs, err := s.cli.ExecuteMultiple(ctx, s.query(sql))
	if err != nil {
		return err
	}
	for i, out := range outs {
		if len(outs) > 1 {
			fmt.Fprintf(s.out, "=> Statement %d:\n", i+1)
		}
		printOutcome(s.out, out)
	}
	if len(outs) < len(stmts) {
		fmt.Fprintf(s.out, "stopped after statement %d of %d\n", len(outs), len(stmts))
	}
	return nil
}

func (s *shell) stream(ctx context.Context, sql string) error {
	st, err := s.cli.Stream(ctx, s.query(sql))
	if err != nil {
		return err
	}
	defer st.Close()

	interrupted, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	finished := make(chan struct{})
	defer close(finished)

	go func() {
		select {
		case <-interrupted.Done():
		case <-finished:
			return
		}
		if ctx.Err() != nil {
			return
		}
		cctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, _ = st.Cancel(cctx)
	}()

	var rows [][]string
	for {
		b, err := st.Next(ctx)
		if errors.Is(err, sqlclient.ErrStreamDone) {
			break
		}
		if err != nil {
			return err
		}
		rows = append(rows, rowTexts(b.Rows)...)
	}

	out := st.Outcome()
	if out.Status == executor.StatusSuccess && len(st.Columns) > 0 {
		printRows(s.out, st.Columns, rows, out.TotalRows, out.Truncated)
		return nil
	}
	printOutcome(s.out, out)
	return nil
}

func (s *shell) repl(addr string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	for _, line := range s.lines.All() {
		_ = rl.SaveHistory(line)
	}

	fmt.Fprintf(s.out, "connected to %s (connection %q, %s mode)\n", addr, s.connection, s.mode)
	fmt.Fprintln(s.out, `type \help for help`)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			// Ctrl+C at the prompt clears the current buffer.
			buf.Reset()
			rl.SetPrompt(prompt)
			continue
		}
		if err != nil {
			fmt.Fprintln(s.out)
			return nil
		}

		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 && trimmed == "" {
			continue
		}

		if buf.Len() == 0 && isMetaCommand(trimmed) {
			if s.meta(trimmed) {
				return nil
			}
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)

		if !parser.StatementComplete(buf.String()) {
			rl.SetPrompt(contPrompt)
			continue
		}

		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		rl.SetPrompt(prompt)

		_ = s.lines.Append(stmt)
		_ = rl.SaveHistory(history.CompactOneLine(stmt))

		if err := s.run(context.Background(), stmt); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// ---- meta commands ----

func isMetaCommand(line string) bool {
	return strings.HasPrefix(line, "\\") || line == "quit" || line == "exit"
}

const helpText = `meta commands:
  \q | quit | exit         quit
  \c <connection>          switch connection id
  \mode interactive|bulk   switch execution mode
  \running                 list running queries
  \cancel <query id>       cancel a running query
  \explain [analyze] <sql> show the plan of a statement
  \history [n]             print local statement history
  \log [n]                 print server execution history
  \help                    show help

sql:
  end statements with ';'; several statements on one line run in order
  press Ctrl+C while a query runs to cancel it`

// meta runs one meta command. It reports true when the shell should exit.
func (s *shell) meta(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch name {
	case "\\q", "quit", "exit":
		return true

	case "\\help", "\\?":
		fmt.Fprintln(s.out, helpText)

	case "\\c":
		if arg == "" {
			fmt.Fprintf(s.out, "connection %q\n", s.connection)
			break
		}
		s.connection = arg
		fmt.Fprintf(s.out, "now using connection %q\n", arg)

	case "\\mode":
		if arg == "" {
			fmt.Fprintf(s.out, "%s mode\n", s.mode)
			break
		}
		mode, err := parseMode(arg)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			break
		}
		s.mode = mode
		fmt.Fprintf(s.out, "%s mode\n", mode)

	case "\\running":
		running, err := s.cli.Running(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			break
		}
		printRunning(s.out, running)

	case "\\cancel":
		if arg == "" {
			fmt.Fprintln(s.out, `usage: \cancel <query id>`)
			break
		}
		found, err := s.cli.Cancel(ctx, arg)
		switch {
		case err != nil:
			fmt.Fprintf(s.out, "error: %v\n", err)
		case found:
			fmt.Fprintln(s.out, "cancel requested")
		default:
			fmt.Fprintln(s.out, "no such running query")
		}

	case "\\explain":
		s.explain(arg)

	case "\\history":
		s.lines.Print(s.out, atoiOr(arg, 50))

	case "\\log":
		entries, err := s.cli.History(ctx, atoiOr(arg, 20))
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			break
		}
		printHistory(s.out, entries)

	default:
		fmt.Fprintf(s.out, "unknown command: %s\n", name)
	}
	return false
}

func (s *shell) explain(arg string) {
	eo := &tuskwire.ExplainOptions{Costs: true, Format: "json"}
	if rest, ok := cutPrefixFold(arg, "analyze "); ok {
		eo.Analyze, eo.Timing = true, true
		arg = rest
	}
	sql := strings.TrimSuffix(strings.TrimSpace(arg), ";")
	if sql == "" {
		fmt.Fprintln(s.out, `usage: \explain [analyze] <sql>`)
		return
	}

	out, err := s.cli.Explain(context.Background(), s.query(sql), eo)
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	printOutcome(s.out, out)
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):]), true
	}
	return s, false
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func main() {
	client := cmdClient{}
	if err := client.Command().Execute(); err != nil {
		os.Exit(1)
	}
}
