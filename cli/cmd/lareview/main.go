package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lareview/cli/internal/agent"
	"lareview/cli/internal/config"
	"lareview/cli/internal/diff"
	"lareview/cli/internal/erruser"
	"lareview/cli/internal/generate"
	"lareview/cli/internal/render"
	"lareview/cli/internal/rules"
	"lareview/cli/internal/session"
	"lareview/cli/internal/tokens"
	"lareview/cli/internal/trace"
	"lareview/cli/internal/version"
)

func main() {
	os.Exit(Run())
}

// Run is the entry point for the CLI. Exported for testing.
func Run() int {
	return runCLI(os.Args[1:])
}

func runCLI(args []string) int {
	rootCmd := &cobra.Command{
		Use:     "lareview",
		Short:   "Diff-based code review generation",
		Version: version.String(),
	}
	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newLastCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if u := errors.Unwrap(err); u != nil {
			fmt.Fprintf(os.Stderr, "Details: %v\n", u)
		}
		return 1
	}
	return 0
}

// defaultTableWidth bounds parse tables when stdout is not a terminal.
const defaultTableWidth = 120

// readDiffText reads the diff from the file argument, or stdin when the
// argument is missing or "-".
func readDiffText(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", erruser.New("Could not read diff from stdin.", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", erruser.New(fmt.Sprintf("Could not read diff file %s.", args[0]), err)
	}
	return string(data), nil
}

func loadConfig() (config.Config, error) {
	root, err := os.Getwd()
	if err != nil {
		root = ""
	}
	return config.Load(config.LoadOptions{RepoRoot: root})
}

func newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a unified diff and print a per-file summary",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runParse,
	}
	cmd.Flags().String("format", "", "Output format: table (default on a terminal), plain, or json")
	return cmd
}

func runParse(cmd *cobra.Command, args []string) error {
	text, err := readDiffText(args)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = "plain"
		if render.IsTerminal(os.Stdout) {
			format = "table"
		}
	}
	parsed := diff.Parse(text)
	width := render.TerminalWidth(os.Stdout, defaultTableWidth)
	if err := render.WriteDiffSummary(cmd.OutOrStdout(), parsed, format, width); err != nil {
		return err
	}
	if format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "~%d tokens\n", tokens.Estimate(text))
	}
	return nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check whether text looks like a reviewable unified diff",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDiffText(args)
			if err != nil {
				return err
			}
			if err := diff.Validate(text); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [file]",
		Short: "Run a review generation against the configured agent",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runGenerate,
	}
	cmd.Flags().String("agent", "", "Agent id (overrides config)")
	cmd.Flags().String("base-url", "", "Agent service base URL (overrides config)")
	cmd.Flags().String("source", "", "Opaque source label recorded with the run")
	cmd.Flags().Bool("stream", false, "Mirror raw progress events as NDJSON on stdout")
	cmd.Flags().Bool("trace", false, "Print internal steps to stderr")
	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	text, err := readDiffText(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("agent"); v != "" {
		cfg.AgentID = v
	}
	if v, _ := cmd.Flags().GetString("base-url"); v != "" {
		cfg.AgentBaseURL = v
	}
	source, _ := cmd.Flags().GetString("source")

	var tr *trace.Tracer
	if on, _ := cmd.Flags().GetBool("trace"); on {
		tr = trace.New(os.Stderr)
	}

	if warn := tokens.WarnIfOver(tokens.Estimate(text), tokens.DefaultResponseReserve,
		cfg.ContextLimit, cfg.WarnThreshold); warn != "" {
		fmt.Fprintln(os.Stderr, "Warning: "+warn)
	}

	matched, err := matchedRules(cfg, text)
	if err != nil {
		return err
	}

	var stream io.Writer
	if on, _ := cmd.Flags().GetBool("stream"); on {
		stream = cmd.OutOrStdout()
	}

	client := agent.NewClient(cfg.AgentBaseURL, &http.Client{Timeout: cfg.Timeout})
	ctrl := generate.New(generate.Options{
		Runner:   client,
		Tracer:   tr,
		StateDir: cfg.StateDir,
		Rules:    matched,
		Stream:   stream,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// First interrupt requests a cooperative stop; a second one aborts.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "Stopping... (interrupt again to abort)")
		if err := ctrl.Stop(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Stop request failed: %v\n", err)
		}
		<-sigCh
		cancel()
	}()

	sess, err := ctrl.Generate(ctx, text, cfg.AgentID, source)
	if err != nil {
		return err
	}
	return reportSession(cmd.OutOrStdout(), sess, stream != nil)
}

// matchedRules loads review rules and filters them to the diff's files.
func matchedRules(cfg config.Config, diffText string) ([]agent.Rule, error) {
	if cfg.RulesDir == "" {
		return nil, nil
	}
	all, err := rules.Load(cfg.RulesDir)
	if err != nil {
		return nil, err
	}
	parsed := diff.Parse(diffText)
	var out []agent.Rule
	for _, r := range rules.ForFiles(all, parsed.ChangedFileNames()) {
		out = append(out, agent.Rule{Name: r.Name, Body: r.Body})
	}
	return out, nil
}

// reportSession writes the terminal outcome. In stream mode only the
// timeline already went to stdout, so the summary goes to stderr.
func reportSession(w io.Writer, sess *generate.Session, streamed bool) error {
	out := w
	if streamed {
		out = os.Stderr
	}
	if !streamed {
		if err := render.WriteTimeline(out, sess.Timeline.Entries()); err != nil {
			return err
		}
		if err := render.WritePlan(out, sess.Timeline); err != nil {
			return err
		}
	}
	switch sess.Status {
	case generate.StatusCompleted:
		fmt.Fprintf(out, "Completed: review %s, %d task(s).\n", sess.ReviewID, sess.TaskCount)
		for _, warn := range sess.CoverageWarnings {
			fmt.Fprintln(out, "Warning: "+warn)
		}
		return nil
	case generate.StatusCancelled:
		fmt.Fprintln(out, sess.Notice)
		return nil
	default:
		if sess.Err != nil {
			return erruser.New("Generation failed.", sess.Err)
		}
		return erruser.New("Generation failed.", nil)
	}
}

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <run-id>",
		Short: "Request cancellation of a run (best-effort)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("base-url"); v != "" {
				cfg.AgentBaseURL = v
			}
			client := agent.NewClient(cfg.AgentBaseURL, &http.Client{Timeout: cfg.Timeout})
			if err := client.Stop(cmd.Context(), args[0]); err != nil {
				return erruser.New("Could not reach the agent service.", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stop requested.")
			return nil
		},
	}
	cmd.Flags().String("base-url", "", "Agent service base URL (overrides config)")
	return cmd
}

func newLastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Show the previous generation run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rec, err := session.Load(cfg.StateDir)
			if err != nil {
				return erruser.New("Could not load the last session.", err)
			}
			if rec.RunID == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No previous run.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s\nagent %s\nstatus %s\n", rec.RunID, rec.AgentID, rec.Status)
			if rec.ReviewID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "review %s (%d task(s))\n", rec.ReviewID, rec.TaskCount)
			}
			if rec.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "error %s\n", rec.Error)
			}
			if !rec.FinishedAt.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "finished %s (took %s)\n",
					rec.FinishedAt.Format("2006-01-02 15:04:05"),
					rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second))
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lareview version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}
