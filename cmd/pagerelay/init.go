package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagerelay/internal/defaults"
	"github.com/neboloop/pagerelay/internal/protocol"
)

func InitCmd() *cobra.Command {
	var (
		origin string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config to the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if origin != "" {
				normalized, err := protocol.NormalizeOrigin(origin)
				if err != nil {
					return fmt.Errorf("--origin: %w", err)
				}
				origin = normalized
			}
			dir, err := defaults.EnsureDataDir()
			if err != nil {
				return err
			}
			path, err := defaults.WriteConfig(dir, origin, force)
			if errors.Is(err, defaults.ErrExists) {
				return fmt.Errorf("%s already exists (use --force to replace it)", path)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "trusted origin, e.g. https://app.example.com")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing config")
	return cmd
}
