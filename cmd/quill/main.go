package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/tui"
)

func main() {
	color.NoColor = !isTerminal(os.Stdout)

	rootCmd := &cobra.Command{
		Use:          "quill",
		Short:        "Markdown blog publishing orchestrator",
		Long:         "Quill plans commands into worker steps and runs them: scanning, extracting, resizing and publishing markdown posts.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runConsole,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newAgentsCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// runConsole starts the REPL, or reads commands line by line when stdin is
// not a terminal.
func runConsole(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	interactive := isTerminal(os.Stdin)

	rt, err := setup(ctx, setupOptions{lock: true, logFile: interactive})
	if err != nil {
		return err
	}
	defer rt.Close()

	if !interactive {
		return tui.RunLines(ctx, os.Stdin, os.Stdout, rt.shell())
	}

	progress, err := rt.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	app := tui.NewApp(ctx, rt.shell(), progress)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))

	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <command...>",
		Short: "Plan and run one command",
		Example: `  quill run upload posts/tech/hello.md
  quill run analyze posts
  quill run "publish everything under posts/travel"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			rt, err := setup(ctx, setupOptions{lock: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			run, err := rt.orch.Submit(ctx, strings.Join(args, " "))
			printRun(os.Stdout, run, err)

			if err != nil {
				return err
			}
			if run.Status != models.RunStatusCompleted {
				return fmt.Errorf("run %s %s", shortID(run.ID), run.Status)
			}
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker states and the most recent run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			runs, err := rt.orch.ListRuns(cmd.Context(), 1)
			if err != nil {
				return err
			}

			printStatus(os.Stdout, rt.orch.Session().SnapshotStatuses(), runs)
			return nil
		},
	}
}

func newAgentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			printAgents(os.Stdout, rt.agents(), rt.planner.Verbs())
			return nil
		},
	}
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			runs, err := rt.orch.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			printRuns(os.Stdout, runs)
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's plan, results and payload",
		Long:  "Show a recorded run. Any unambiguous prefix of the run id works.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			run, err := rt.orch.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			printRunDetail(os.Stdout, run)
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), setupOptions{lock: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.orch.DeleteRun(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Printf("Deleted run %s\n", args[0])
			return nil
		},
	}
}
