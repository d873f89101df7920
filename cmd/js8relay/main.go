package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hamlink/js8relay/cmd/js8relay/internal"
	"github.com/hamlink/js8relay/cmd/js8relay/internal/console"
	"github.com/hamlink/js8relay/cmd/js8relay/internal/roster"
	"github.com/hamlink/js8relay/cmd/js8relay/internal/serve"
	"github.com/hamlink/js8relay/cmd/js8relay/internal/setup"
	"github.com/hamlink/js8relay/cmd/js8relay/internal/version"
)

func NewJS8RelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "js8relay",
		Short:   fmt.Sprintf("js8relay - JS8Call to LXMF message relay v%s", internal.GetVersion()),
		Example: "js8relay serve",
	}

	cmd.AddCommand(
		setup.NewInitCommand(),
		serve.NewServeCommand(),
		console.NewConsoleCommand(),
		roster.NewRosterCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewJS8RelayCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
