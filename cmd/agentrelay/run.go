package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/core"
)

func (c *cli) runCommand() *cobra.Command {
	var (
		agentID        string
		conversationID string
		requestID      string
		maxTransfers   int
		operations     bool
	)
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run a single turn and print the streamed answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signalContext()
			defer stop()

			app, _, err := c.build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if agentID == "" {
				if len(cfg.Agents) == 0 {
					return fmt.Errorf("no agents configured")
				}
				agentID = cfg.Agents[0].ID
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}
			if requestID == "" {
				requestID = uuid.NewString()
			}

			out := cmd.OutOrStdout()
			result := app.Relay.Execute(ctx, core.ExecutionRequest{
				ConversationID: conversationID,
				UserMessage:    args[0],
				InitialAgentID: agentID,
				RequestID:      requestID,
				MaxTransfers:   maxTransfers,
				EmitOperations: operations,
				BatchRun:       true,
			}, newConsoleAdapter(out))
			app.Relay.Wait()

			printResult(out, conversationID, result)
			if !result.Success {
				return fmt.Errorf("turn failed: %s", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "Initial agent id (defaults to the first configured agent)")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation id (random when empty)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Request id (random when empty)")
	cmd.Flags().IntVar(&maxTransfers, "max-transfers", 0, "Iteration cap (0 uses the default)")
	cmd.Flags().BoolVar(&operations, "operations", false, "Print operation events")
	return cmd
}

func printResult(w io.Writer, conversationID string, r core.ExecutionResult) {
	if r.Success {
		agent := ""
		if r.Response != nil {
			agent = r.Response.AgentID
		}
		fmt.Fprintf(w, "%s %s\n", green("✔ completed"),
			gray(fmt.Sprintf("agent=%s iterations=%d conversation=%s", agent, r.Iterations, conversationID)))
		return
	}
	fmt.Fprintf(w, "%s %s\n", red("✘ "+r.Error), gray(fmt.Sprintf("iterations=%d", r.Iterations)))
}
