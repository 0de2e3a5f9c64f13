package main

import (
	"github.com/spf13/cobra"

	"github.com/openclaw/memcore/internal/engine"
)

func searchCmd() *cobra.Command {
	var query string
	var k, minConfidence int
	var includeConflicted bool

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Hybrid vector+graph search over memories",
	}
	tenant, user, agent, session, project := scopeFlags(cmd)
	cmd.Flags().StringVar(&query, "query", "", "search query (required)")
	cmd.Flags().IntVar(&k, "k", 0, "maximum number of results (default: 5)")
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "minimum confidence floor")
	cmd.Flags().BoolVar(&includeConflicted, "include-conflicted", false, "include conflicted records")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		results, err := eng.Search(ctx, engine.SearchInput{
			Scope:             scopeFromFlags(tenant, user, agent, session, project),
			Query:             query,
			K:                 k,
			MinConfidence:     minConfidence,
			IncludeConflicted: includeConflicted,
		})
		if err != nil {
			return err
		}
		printJSON(results)
		return nil
	}
	return cmd
}

func contextCmd() *cobra.Command {
	var query string
	var k, minConfidence int

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Fetch active, high-confidence context for a query",
	}
	tenant, user, agent, session, project := scopeFlags(cmd)
	cmd.Flags().StringVar(&query, "query", "", "context query (required)")
	cmd.Flags().IntVar(&k, "k", 0, "maximum number of results (default: 5)")
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "minimum confidence (default: 7)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		results, err := eng.GetContext(ctx, engine.ContextInput{
			Scope:         scopeFromFlags(tenant, user, agent, session, project),
			Query:         query,
			K:             k,
			MinConfidence: minConfidence,
		})
		if err != nil {
			return err
		}
		printJSON(results)
		return nil
	}
	return cmd
}
