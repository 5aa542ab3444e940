package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagerelay/internal/client"
	"github.com/neboloop/pagerelay/internal/nativemsg"
)

func NativeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "native",
		Short: "Serve caller messages over native messaging",
		Long: `Read length-prefixed caller messages from stdin and write relay responses
to stdout, as a browser's native messaging host. Messages are forwarded
to the relay server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClientConfig()
			if err != nil {
				return err
			}
			logger := setupLogging(c)
			ctx, cancel := signalContext()
			defer cancel()

			host := nativemsg.NewHost(client.New(c.BaseURL(), clientTimeout(c)), logger)
			return host.Serve(ctx, os.Stdin, os.Stdout)
		},
	}
}
