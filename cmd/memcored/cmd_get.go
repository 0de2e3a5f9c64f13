package main

import (
	"github.com/spf13/cobra"
)

func getCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a single memory by ID",
	}
	tenant, user, agent, session, project := scopeFlags(cmd)
	cmd.Flags().StringVar(&id, "id", "", "record ID (required)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		rec, err := eng.Get(ctx, scopeFromFlags(tenant, user, agent, session, project), id)
		if err != nil {
			return err
		}
		printJSON(rec)
		return nil
	}
	return cmd
}

func getAllCmd() *cobra.Command {
	var cursor string
	var limit int

	cmd := &cobra.Command{
		Use:   "get-all",
		Short: "Page through every memory in a scope",
	}
	tenant, user, agent, session, project := scopeFlags(cmd)
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor from a prior call")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to return (default: 5)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		records, next, err := eng.GetAll(ctx, scopeFromFlags(tenant, user, agent, session, project), cursor, limit)
		if err != nil {
			return err
		}
		printJSON(map[string]any{"memories": records, "cursor": next})
		return nil
	}
	return cmd
}

func capabilitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Report which collaborators (vector store, graph store, cache, pub-sub, clustered locking) are available",
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		printJSON(eng.Capabilities())
		return nil
	}
	return cmd
}
