package cli

import (
	"github.com/spf13/cobra"

	"github.com/neboloop/pagerelay/internal/client"
	"github.com/neboloop/pagerelay/internal/mcp"
)

func MCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the relay tools over MCP stdio",
		Long: `Expose relay_ping, relay_fetch and token_latest to an MCP client on
stdin/stdout. Calls are forwarded to the relay server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClientConfig()
			if err != nil {
				return err
			}
			setupLogging(c)
			ctx, cancel := signalContext()
			defer cancel()

			cl := client.New(c.BaseURL(), clientTimeout(c))
			return mcp.ServeStdio(ctx, mcp.NewServer(cl, cl, Version))
		},
	}
}
