package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"campusdesk/pkg/sdk"
)

const clientTimeout = 30 * time.Second

func newClient(baseURL, apiKey string) *sdk.Client {
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("CAMPUSDESK_API_KEY"))
	}
	return sdk.New(sdk.Config{BaseURL: baseURL, APIKey: apiKey, Timeout: clientTimeout})
}

func newAgentCommand(baseURL, apiKey *string, asJSON *bool) *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Work the support queue as an agent"}

	cmd.AddCommand(&cobra.Command{
		Use:   "requests",
		Short: "List pending requests and your active case",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), clientTimeout)
			defer cancel()
			q, err := newClient(*baseURL, *apiKey).Support.Pending(ctx)
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(q)
			}
			if q.ActiveCase != nil {
				fmt.Printf("Active case: %s (conversation %s, %s)\n", q.ActiveCase.ID, q.ActiveCase.ConversationID, q.ActiveCase.UserName)
			}
			return printRequestsTable(q.Pending)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "take <request-id>",
		Short: "Take a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd.Context(), newClient(*baseURL, *apiKey).Support.Take, args[0], *asJSON)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <request-id>",
		Short: "Resolve your active case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd.Context(), newClient(*baseURL, *apiKey).Support.Resolve, args[0], *asJSON)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reply <conversation-id> <message>",
		Short: "Reply in the conversation of your active case",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), clientTimeout)
			defer cancel()
			msg, err := newClient(*baseURL, *apiKey).Support.Reply(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(map[string]any{"message": msg})
			}
			fmt.Printf("Sent %s\n", msg.ID)
			return nil
		},
	})
	return cmd
}

func runTransition(parent context.Context, fn func(context.Context, string) (sdk.AgentRequest, error), id string, asJSON bool) error {
	ctx, cancel := withTimeout(parent, clientTimeout)
	defer cancel()
	req, err := fn(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(map[string]any{"agent_request": req})
	}
	fmt.Printf("Request %s is %s (conversation %s)\n", req.ID, req.Status, req.ConversationID)
	return nil
}

func printRequestsTable(items []sdk.AgentRequest) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONVERSATION\tSTUDENT\tMESSAGES\tLAST_MESSAGE\tCREATED_AT")
	for _, r := range items {
		last := r.LastMessage
		if len(last) > 40 {
			last = last[:40] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.ConversationID, r.UserName, r.MessageCount, last, r.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
