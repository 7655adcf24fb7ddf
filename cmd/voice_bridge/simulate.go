package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arzzra/voice_bridge/pkg/session"
)

var (
	simulateCaller string
	simulateText   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Send one text turn through the assistant pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(cmd.Context(), configFile, simulateCaller, simulateText, cmd.OutOrStdout())
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCaller, "caller", "cli", "caller id stored with the conversation")
	simulateCmd.Flags().StringVar(&simulateText, "text", "", "caller utterance")
	_ = simulateCmd.MarkFlagRequired("text")
}

func runSimulate(ctx context.Context, path, caller, text string, out io.Writer) error {
	a, err := newApp(path)
	if err != nil {
		return err
	}
	defer a.Close()

	registry, err := session.NewRegistry(a.sessionConfig(), a.deps, nil)
	if err != nil {
		return err
	}

	res, err := registry.SimulateCall(ctx, caller, text)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "call_id: %s\n", res.CallID)
	if res.Model != "" {
		fmt.Fprintf(out, "model:   %s\n", res.Model)
	}
	if res.Fallback {
		fmt.Fprintln(out, "fallback: true")
	}
	fmt.Fprintf(out, "reply:   %s\n", res.Reply)
	return nil
}
