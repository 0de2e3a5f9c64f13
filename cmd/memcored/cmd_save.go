package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/memcore/internal/engine"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

// newEngine wires every collaborator and returns a ready Engine. graph may
// be nil when Neo4j is unreachable, per §4.1's degrade rules.
func newEngine(ctx context.Context) (*engine.Engine, error) {
	logger := newLogger()

	vec, err := newVectorStore(logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to vector store: %w", err)
	}
	graph := newGraphStore(ctx, logger)
	cache, pubsub, locks := newCacheLock(logger)

	eng := engine.New(vec, graph, newEmbedder(logger), newExtractor(logger), cache, pubsub, locks,
		ports.RealClock{}, newConflictDetector(), newRanker(), newEngineConfig(), logger)
	return eng, nil
}

func scopeFlags(cmd *cobra.Command) (tenant, user, agent, session, project *string) {
	tenant = cmd.Flags().String("tenant", "", "tenant identifier (required)")
	user = cmd.Flags().String("user", "", "user identifier (required)")
	agent = cmd.Flags().String("agent", "", "optional agent narrowing")
	session = cmd.Flags().String("session", "", "optional session narrowing")
	project = cmd.Flags().String("project", "", "optional project narrowing")
	return
}

func scopeFromFlags(tenant, user, agent, session, project *string) models.Scope {
	return models.Scope{Tenant: *tenant, User: *user, Agent: *agent, Session: *session, Project: *project}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func saveCmd() *cobra.Command {
	var content, category, source string
	var confidence int

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a memory",
	}
	tenant, user, agent, session, project := scopeFlags(cmd)
	cmd.Flags().StringVar(&content, "content", "", "memory content (required)")
	cmd.Flags().StringVar(&category, "category", string(models.CategoryGeneric), "category")
	cmd.Flags().StringVar(&source, "source", "", "attribution source")
	cmd.Flags().IntVar(&confidence, "confidence", 0, "confidence 1-10 (default: category default)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		result, err := eng.Save(ctx, engine.SaveInput{
			Scope:      scopeFromFlags(tenant, user, agent, session, project),
			Content:    content,
			Category:   models.Category(category),
			Confidence: confidence,
			Source:     source,
		})
		if err != nil {
			return err
		}
		printJSON(result)
		return nil
	}
	return cmd
}

func saveVerifiedCmd() *cobra.Command {
	var content, category, source string
	var confidence int

	cmd := &cobra.Command{
		Use:   "save-verified",
		Short: "Save a verified memory (source required, confidence >= 7)",
	}
	tenant, user, agent, session, project := scopeFlags(cmd)
	cmd.Flags().StringVar(&content, "content", "", "memory content (required)")
	cmd.Flags().StringVar(&category, "category", string(models.CategoryGeneric), "category")
	cmd.Flags().StringVar(&source, "source", "", "attribution source (required)")
	cmd.Flags().IntVar(&confidence, "confidence", 0, "confidence 7-10 (default: 9)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		result, err := eng.SaveVerified(ctx, engine.SaveInput{
			Scope:      scopeFromFlags(tenant, user, agent, session, project),
			Content:    content,
			Category:   models.Category(category),
			Confidence: confidence,
			Source:     source,
		})
		if err != nil {
			return err
		}
		printJSON(result)
		return nil
	}
	return cmd
}

func saveMilestoneCmd() *cobra.Command {
	var content, milestoneType string
	var impactLevel int

	cmd := &cobra.Command{
		Use:   "save-milestone",
		Short: "Record a project milestone",
	}
	tenant, user, agent, session, project := scopeFlags(cmd)
	cmd.Flags().StringVar(&content, "content", "", "milestone description (required)")
	cmd.Flags().StringVar(&milestoneType, "type", "", "milestone type (required)")
	cmd.Flags().IntVar(&impactLevel, "impact", 5, "impact level 1-10")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		rec, err := eng.SaveMilestone(ctx, engine.MilestoneInput{
			Scope:         scopeFromFlags(tenant, user, agent, session, project),
			Content:       content,
			MilestoneType: models.MilestoneType(milestoneType),
			ImpactLevel:   impactLevel,
		})
		if err != nil {
			return err
		}
		printJSON(rec)
		return nil
	}
	return cmd
}
