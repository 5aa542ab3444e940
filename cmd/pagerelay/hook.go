package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagerelay/internal/capture"
)

func HookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hook",
		Short: "Print the in-page capture hook",
		Long: `Print the script a content script injects into the page to report bearer
tokens. The running server also serves it at /hook.js.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(capture.HookScript())
		},
	}
}
