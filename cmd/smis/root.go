package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"smis/internal/app"
	"smis/internal/config"
	"smis/internal/logging"
)

// cli carries state shared by every subcommand.
type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	offline bool
	asJSON  bool
	verbose bool

	cfg config.App
	app *app.App

	// load and open are swapped out by tests.
	load func() config.App
	open func(ctx context.Context, cfg config.App, logger *slog.Logger, opts app.Options) (*app.App, error)
}

func newRootCmd(in io.Reader, out, errOut io.Writer) (*cobra.Command, *cli) {
	c := &cli{in: in, out: out, errOut: errOut, load: config.Load, open: app.Open}

	root := &cobra.Command{
		Use:           "smis",
		Short:         "Student records with offline-first sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.Context())
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.BoolVar(&c.offline, "offline", false, "work against local storage only")
	flags.BoolVar(&c.asJSON, "json", false, "print JSON instead of tables")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		c.addCmd(),
		c.listCmd(),
		c.showCmd(),
		c.editCmd(),
		c.deleteCmd(),
		c.searchCmd(),
		c.importCmd(),
		c.photoCmd(),
		c.watchCmd(),
		c.syncCmd(),
		c.forceSyncCmd(),
		c.statsCmd(),
		c.enqueueCmd(),
		c.loginCmd(),
		c.logoutCmd(),
	)
	return root, c
}

func (c *cli) setup(ctx context.Context) error {
	c.cfg = c.load()
	if err := c.cfg.ValidateDevice(); err != nil {
		return err
	}
	logger := logging.NewCLI(c.cfg.Env, c.cfg.LogFile, c.verbose)
	a, err := c.open(ctx, c.cfg, logger, app.Options{Offline: c.offline})
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

// close releases whatever setup opened. Safe to call when setup never ran.
func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}
