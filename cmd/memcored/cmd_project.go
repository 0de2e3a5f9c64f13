package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/project"
)

func newReporter(ctx context.Context) (*project.Reporter, error) {
	logger := newLogger()
	vec, err := newVectorStore(logger)
	if err != nil {
		return nil, err
	}
	graph := newGraphStore(ctx, logger)
	return project.NewReporter(vec, graph), nil
}

func auditCmd() *cobra.Command {
	var operatorID string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit memory quality for a scope: conflicts, low confidence, staleness",
	}
	tenant, user, agent, session, proj := scopeFlags(cmd)
	cmd.Flags().StringVar(&operatorID, "operator", "", "operator identity, required for cross-scope audits")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rep, err := newReporter(ctx)
		if err != nil {
			return err
		}
		scope := scopeFromFlags(tenant, user, agent, session, proj)
		report, err := rep.AuditMemoryQuality(ctx, operatorID, []models.Scope{scope})
		if err != nil {
			return err
		}
		printJSON(report)
		return nil
	}
	return cmd
}

func projectCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Report the current project state: phase, milestone count, recent milestones",
	}
	tenant, user, agent, session, proj := scopeFlags(cmd)
	cmd.Flags().StringVar(&projectID, "project-id", "", "project identifier to filter by")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rep, err := newReporter(ctx)
		if err != nil {
			return err
		}
		state, err := rep.GetCurrentProjectState(ctx, scopeFromFlags(tenant, user, agent, session, proj), projectID)
		if err != nil {
			return err
		}
		printJSON(state)
		return nil
	}
	return cmd
}

func evolutionCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "evolution",
		Short: "Show a project's milestone timeline and supersession edges",
	}
	tenant, user, agent, session, proj := scopeFlags(cmd)
	cmd.Flags().StringVar(&projectID, "project-id", "", "project identifier to filter by")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rep, err := newReporter(ctx)
		if err != nil {
			return err
		}
		timeline, err := rep.TrackProjectEvolution(ctx, scopeFromFlags(tenant, user, agent, session, proj), projectID)
		if err != nil {
			return err
		}
		printJSON(timeline)
		return nil
	}
	return cmd
}
