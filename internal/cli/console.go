package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Kocoro-lab/clinicflow/internal/executor"
	"github.com/Kocoro-lab/clinicflow/internal/httpapi"
)

const (
	replPrompt  = "\nEnter request: "
	exitCommand = "exit"
)

// runOnce executes input and prints the result as indented JSON to out,
// followed by a colored status line on status.
func runOnce(ctx context.Context, runner httpapi.Runner, input string, out, status io.Writer) error {
	result, err := runner.Run(ctx, input)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(out, string(data))

	if result.Status == executor.StatusSuccess {
		successColor.Fprintf(status, "%s: %d step(s) executed\n", result.Status, len(result.AuditLog))
	} else {
		failureColor.Fprintf(status, "%s: %s\n", result.Status, result.Reason)
	}
	return nil
}

// repl reads requests line by line until "exit" or end of input. Errors for
// one request are printed and the loop continues.
func repl(ctx context.Context, runner httpapi.Runner, in io.Reader, out, status io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		promptColor.Fprint(out, replPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, exitCommand) {
			return nil
		}
		if line == "" {
			fmt.Fprintln(status, httpapi.BlankRequestMessage)
			continue
		}
		if err := runOnce(ctx, runner, line, out, status); err != nil {
			failureColor.Fprintf(status, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
