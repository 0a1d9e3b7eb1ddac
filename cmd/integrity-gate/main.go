package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lzjever/ledgerseal/internal/gate"
)

var errBlocked = errors.New("deployment blocked")

func newRootCmd(stdout io.Writer) *cobra.Command {
	var root, output string
	cmd := &cobra.Command{
		Use:           "integrity-gate",
		Short:         "Block a release unless every integrity check passes",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := gate.Run(cmd.Context(), root, gate.DefaultChecks())
			if err != nil {
				return err
			}
			switch output {
			case "text":
				err = gate.WriteText(stdout, report)
			case "json":
				err = gate.WriteJSON(stdout, report)
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
			if err != nil {
				return err
			}
			if !report.Authorized() {
				return errBlocked
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "repository root to check")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json)")
	return cmd
}

// run executes the gate and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errBlocked) {
			fmt.Fprintf(stderr, "integrity-gate: %v\n", err)
			fmt.Fprintln(stdout, "deployment blocked")
		}
		return 1
	}
	return 0
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
