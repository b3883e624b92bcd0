package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"smis/internal/queue"
)

func (c *cli) syncCmd() *cobra.Command {
	var retries int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending changes and pull remote ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("retries") {
				retries = c.cfg.SyncRetries
			}
			if err := c.app.Repo.SyncAll(cmd.Context(), retries).Err(); err != nil {
				return err
			}
			return c.printStats(cmd)
		},
	}
	cmd.Flags().IntVar(&retries, "retries", 3, "attempts before giving up")
	return cmd
}

func (c *cli) forceSyncCmd() *cobra.Command {
	var cloud, api bool
	cmd := &cobra.Command{
		Use:   "force-sync",
		Short: "Rebuild local data from a backend",
		Long: "With --cloud the local store is replaced by the document backend's records.\n" +
			"With --api the REST list is merged in without deleting anything.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			switch {
			case cloud:
				err = c.app.Repo.ForceSyncFromCloud(cmd.Context()).Err()
			case api:
				err = c.app.Repo.ForceSyncFromAPI(cmd.Context()).Err()
			}
			if err != nil {
				return err
			}
			return c.printStats(cmd)
		},
	}
	cmd.Flags().BoolVar(&cloud, "cloud", false, "replace local data with the document backend")
	cmd.Flags().BoolVar(&api, "api", false, "merge the REST backend into local data")
	cmd.MarkFlagsMutuallyExclusive("cloud", "api")
	cmd.MarkFlagsOneRequired("cloud", "api")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many records are synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.printStats(cmd)
		},
	}
}

func (c *cli) printStats(cmd *cobra.Command) error {
	stats, err := c.app.Repo.GetSyncStatistics(cmd.Context()).Get()
	if err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(stats)
	}
	fmt.Fprintf(c.out, "%d of %d students synced (%d%%)\n", stats.Synced, stats.Total, stats.Percentage)
	return nil
}

func (c *cli) enqueueCmd() *cobra.Command {
	var retries int
	cmd := &cobra.Command{
		Use:       "enqueue KIND",
		Short:     "Ask the background worker to run a sync",
		ValidArgs: []string{queue.KindSync, queue.KindPullAPI, queue.KindForceCloud},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.app.Queue == nil {
				return errors.New("no queue configured; set REDIS_ADDR")
			}
			req := queue.Request{Kind: args[0], MaxRetries: retries, RequestedBy: requester(c), At: time.Now().UTC()}
			if err := c.app.Queue.Publish(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintf(c.errOut, "queued %s\n", req.Kind)
			return nil
		},
	}
	cmd.Flags().IntVar(&retries, "retries", 0, "attempts for a sync request; 0 uses the worker default")
	return cmd
}

func requester(c *cli) string {
	if s := c.app.Session(); s != nil && s.Email != "" {
		return s.Email
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return ""
}
