package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"campusdesk/internal/api"
	"campusdesk/internal/api/handlers"
	ws "campusdesk/internal/api/websocket"
	mcpbridge "campusdesk/internal/mcp"
)

func newMCPCommand(cfgPath *string, apiKey *string) *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the support tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			key := strings.TrimSpace(*apiKey)
			if key == "" {
				key = strings.TrimSpace(os.Getenv("CAMPUSDESK_API_KEY"))
			}
			server := handlers.New(rt.app, rt.db, rt.cfg, rt.logger)
			router := api.NewRouter(server, rt.app, ws.NewHub(rt.app), nil)
			bridge := mcpbridge.New(mcpbridge.Options{
				App:              rt.app,
				Config:           rt.cfg,
				Router:           router,
				DefaultAPIKey:    key,
				DefaultAccountID: accountID,
				Version:          version,
			})
			return bridge.ServeStdio()
		},
	}
	cmd.Flags().StringVar(&accountID, "account-id", "", "Refuse keys that do not belong to this account")
	return cmd
}
