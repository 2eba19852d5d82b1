package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/clinicflow/internal/llm"
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Plan and execute a single request",
	Long: `Plan and execute a single request and print the result as JSON.

Example:
  clinicflow run "Schedule a cardiology follow-up and check insurance for Ravi Kumar"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := strings.TrimSpace(strings.Join(args, " "))
		if input == "" {
			return fmt.Errorf("please enter a request")
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runOnce(ctx, a.agent, input, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Read requests interactively until \"exit\"",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return repl(ctx, a.agent, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

const (
	pingPrompt    = "Say: LLM is working."
	pingMaxTokens = 20
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the language model endpoint answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.logger.Sync() }()

		if a.config().LLM.APIKey == "" {
			return fmt.Errorf("no API key configured: set HF_TOKEN or CLINICFLOW_LLM_API_KEY")
		}
		return ping(cmd.Context(), a.llm, cmd.OutOrStdout())
	},
}

func ping(ctx context.Context, client llm.Client, out io.Writer) error {
	text, err := client.Complete(ctx, llm.Request{User: pingPrompt, MaxTokens: pingMaxTokens})
	if err != nil {
		return fmt.Errorf("language model unreachable: %w", err)
	}
	fmt.Fprintln(out, strings.TrimSpace(text))
	return nil
}
