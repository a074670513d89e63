package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"campusdesk/internal/model"
	"campusdesk/internal/storage/repos"
)

var version = "dev"

func main() {
	var (
		cfgPath string
		baseURL string
		apiKey  string
		asJSON  bool
	)

	root := &cobra.Command{
		Use:           "campusdesk",
		Short:         "Student services desk: reminders, chat assistant and human support handoff",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base API URL for client commands (default $CAMPUSDESK_URL or http://localhost:8080)")
	root.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for client commands (default $CAMPUSDESK_API_KEY)")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON output")

	root.AddCommand(newInitCommand(&cfgPath, &asJSON))
	root.AddCommand(newServerCommand(&cfgPath))
	root.AddCommand(newAccountsCommand(&cfgPath, &asJSON))
	root.AddCommand(newRemindersCommand(&cfgPath, &asJSON))
	root.AddCommand(newAgentCommand(&baseURL, &apiKey, &asJSON))
	root.AddCommand(newMCPCommand(&cfgPath, &apiKey))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newInitCommand(cfgPath *string, asJSON *bool) *cobra.Command {
	var adminEmail, adminName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and the admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			acc, key, err := rt.app.BootstrapInit(ctx, adminEmail, adminName)
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(map[string]any{"account": acc, "api_key": key})
			}
			fmt.Printf("Initialized at %s\n", filepath.Clean(rt.cfg.Database.Path))
			fmt.Printf("Admin account ID: %s\n", acc.ID)
			fmt.Printf("Admin API Key (shown once): %s\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "Email for the admin account")
	cmd.Flags().StringVar(&adminName, "admin-name", "", "Display name for the admin account")
	return cmd
}

func newAccountsCommand(cfgPath *string, asJSON *bool) *cobra.Command {
	cmd := &cobra.Command{Use: "accounts", Short: "Manage accounts in the local database"}

	var email, name, fullName, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a student, support or admin account and print its key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			acc, key, err := rt.app.CreateAccount(ctx, repos.CreateAccountInput{
				Email:       email,
				DisplayName: strings.TrimSpace(name),
				FullName:    strings.TrimSpace(fullName),
				Role:        model.Role(role),
			}, "live")
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(map[string]any{"account": acc, "api_key": key})
			}
			fmt.Printf("Account ID: %s\n", acc.ID)
			fmt.Printf("API Key (shown once): %s\n", key)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "Email address")
	create.Flags().StringVar(&name, "name", "", "Display name")
	create.Flags().StringVar(&fullName, "full-name", "", "Full name")
	create.Flags().StringVar(&role, "role", string(model.RoleStudent), "Role: student|support|admin")
	_ = create.MarkFlagRequired("email")
	cmd.AddCommand(create)

	var listRole string
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			items, total, err := rt.store.ListAccounts(ctx, listRole, 1, 500)
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(map[string]any{"accounts": items, "total": total})
			}
			return printAccountsTable(items)
		},
	}
	list.Flags().StringVar(&listRole, "role", "", "Only this role")
	cmd.AddCommand(list)
	return cmd
}

func newRemindersCommand(cfgPath *string, asJSON *bool) *cobra.Command {
	cmd := &cobra.Command{Use: "reminders", Short: "Reminder scheduler commands"}
	var at string
	runOnce := &cobra.Command{
		Use:   "run-once",
		Short: "Run a single reminder tick and print what it did",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			now := time.Now()
			if at != "" {
				now, err = time.ParseInLocation("2006-01-02 15:04", at, time.Local)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			res, err := rt.reminders().RunOnce(ctx, now)
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(map[string]any{
					"window_start": res.Window.Start,
					"window_end":   res.Window.End,
					"result":       res,
				})
			}
			fmt.Printf("Window %s .. %s\n", res.Window.Start.Format("2006-01-02 15:04"), res.Window.End.Format("2006-01-02 15:04"))
			fmt.Printf("candidates=%d sent=%d duplicates=%d no_contact=%d failed=%d\n",
				res.Candidates, res.Sent, res.Duplicates, res.NoContact, res.Failed)
			return nil
		},
	}
	runOnce.Flags().StringVar(&at, "at", "", "Pretend the tick runs at this local time (YYYY-MM-DD HH:MM)")
	cmd.AddCommand(runOnce)
	return cmd
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printAccountsTable(items []model.Account) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tSTATUS\tCREATED_AT")
	for _, a := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.Email, a.DisplayName, a.Role, a.Status, a.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
