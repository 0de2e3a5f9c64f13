package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func resolveCmd() *cobra.Command {
	var conflictingIDs, correctContent, reason string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Consolidate conflicting memories into one authoritative replacement",
	}
	tenant, user, agent, session, project := scopeFlags(cmd)
	cmd.Flags().StringVar(&conflictingIDs, "ids", "", "comma-separated conflicting record IDs (required)")
	cmd.Flags().StringVar(&correctContent, "content", "", "consolidated, correct content (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "why these records conflicted")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}

		var ids []string
		for _, id := range strings.Split(conflictingIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}

		rec, err := eng.ResolveConflict(ctx, scopeFromFlags(tenant, user, agent, session, project), ids, correctContent, reason)
		if err != nil {
			return err
		}
		printJSON(rec)
		return nil
	}
	return cmd
}
