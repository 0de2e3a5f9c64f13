package main

import (
	"github.com/spf13/cobra"

	"github.com/openclaw/memcore/internal/lifecycle"
	"github.com/openclaw/memcore/internal/ports"
)

func sweepCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire records past their expires_at for a scope",
	}
	tenant, user, agent, session, project := scopeFlags(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would expire without writing")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		vec, err := newVectorStore(logger)
		if err != nil {
			return err
		}
		_, pubsub, _ := newCacheLock(logger)

		sweeper := lifecycle.NewSweeper(vec, pubsub, ports.RealClock{}, logger)
		report, err := sweeper.Run(ctx, scopeFromFlags(tenant, user, agent, session, project), dryRun)
		if err != nil {
			return err
		}
		printJSON(report)
		return nil
	}
	return cmd
}
