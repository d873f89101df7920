package roster

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hamlink/js8relay/cmd/js8relay/internal"
	"github.com/hamlink/js8relay/pkg/directory"
	"github.com/hamlink/js8relay/pkg/lxmf"
	"github.com/hamlink/js8relay/pkg/storage"
)

// NewRosterCommand administers subscribers and callsign bindings directly
// against the store, for setup before the relay has mesh connectivity.
func NewRosterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Inspect and edit subscribers and callsign bindings",
	}

	cmd.AddCommand(
		newListCommand(),
		newBindCommand(),
		newUnbindCommand(),
		newAddCommand(),
	)

	return cmd
}

func openDirectory() (*directory.Directory, func(), error) {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}

	store, _, err := storage.Open(cfg.DataPath())
	if err != nil {
		return nil, nil, fmt.Errorf("error opening storage: %w", err)
	}

	dir, err := directory.New(store, cfg.Bot.DefaultGroups)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return dir, func() { store.Close() }, nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subscribers and bindings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			dir, done, err := openDirectory()
			if err != nil {
				return err
			}
			defer done()

			users := dir.Users()
			fmt.Printf("Subscribers (%d):\n", len(users))
			for _, id := range users {
				fmt.Printf("  %s  %v\n", id, dir.Groups(id))
			}

			bindings := dir.Bindings()
			fmt.Printf("Bindings (%d):\n", len(bindings))
			for _, b := range bindings {
				fmt.Printf("  %-10s -> %s\n", b.Callsign, b.Identity)
			}
			return nil
		},
	}
}

func newBindCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bind CALLSIGN IDENTITY",
		Short: "Bind a callsign to an LXMF identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			dir, done, err := openDirectory()
			if err != nil {
				return err
			}
			defer done()

			id, err := lxmf.ParseIdentity(args[1])
			if err != nil {
				return err
			}
			if err := dir.Bind(args[0], id); err != nil {
				return err
			}
			fmt.Printf("Bound %s -> %s\n", args[0], id)
			return nil
		},
	}
}

func newUnbindCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unbind CALLSIGN",
		Short: "Remove a callsign binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir, done, err := openDirectory()
			if err != nil {
				return err
			}
			defer done()

			if err := dir.Unbind(args[0]); err != nil {
				return err
			}
			fmt.Printf("Unbound %s\n", args[0])
			return nil
		},
	}
}

func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add IDENTITY",
		Short: "Subscribe an LXMF identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir, done, err := openDirectory()
			if err != nil {
				return err
			}
			defer done()

			id, err := lxmf.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			created, err := dir.AddUser(id)
			if err != nil {
				return err
			}
			if !created {
				fmt.Printf("%s already subscribed\n", id)
				return nil
			}
			fmt.Printf("Subscribed %s, groups %v\n", id, dir.Groups(id))
			return nil
		},
	}
}
