package setup

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hamlink/js8relay/cmd/js8relay/internal"
	"github.com/hamlink/js8relay/pkg/config"
)

// NewInitCommand writes a starter config the operator can then edit.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path := internal.GetConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			fmt.Println("Set lxmf.identity to your gateway destination hash before starting.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config")
	return cmd
}
