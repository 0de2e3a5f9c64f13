// Package extractor implements the ports.Extractor contract using an LLM,
// generalized from the teacher's internal/capture entity extractor: it now
// returns both entities and (src, relation, dst) triples in one call
// instead of entities alone, and degrades to empty results rather than
// raising on any provider failure.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/pkg/xmlutil"
)

const (
	maxTokens           = 768
	defaultModel        = "claude-3-5-haiku-latest"
)

// extractionPromptTemplate is XML-delimited to prevent prompt injection
// from the content being analyzed, following the teacher's pattern.
const extractionPromptTemplate = `Extract entities and relationships from the following text. Return ONLY a JSON object of the form {"entities": ["..."], "relations": [{"src": "...", "type": "...", "dst": "..."}]}. Entities are proper nouns: people, systems, projects, components. Relations connect two entities with a short verb phrase. If nothing is found, return {"entities": [], "relations": []}.

<content>
%s
</content>`

type rawRelation struct {
	Src  string `json:"src"`
	Type string `json:"type"`
	Dst  string `json:"dst"`
}

type rawExtraction struct {
	Entities  []string      `json:"entities"`
	Relations []rawRelation `json:"relations"`
}

// ClaudeExtractor implements ports.Extractor against the Anthropic API.
type ClaudeExtractor struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewClaudeExtractor builds a ClaudeExtractor. model defaults to a small,
// fast model suitable for structured extraction.
func NewClaudeExtractor(apiKey, model string, logger *slog.Logger) *ClaudeExtractor {
	if model == "" {
		model = defaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeExtractor{client: &client, model: model, logger: logger}
}

// Extract returns entities and relations found in text. Any API or parse
// failure is logged and swallowed, per the port contract: a record with an
// empty graph payload is better than no record.
func (e *ClaudeExtractor) Extract(ctx context.Context, text string) ([]string, []models.Relation, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate, xmlutil.Escape(text))

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		e.logger.Warn("extractor: API call failed, proceeding with empty graph payload", "error", err)
		return nil, nil, nil
	}

	raw := messageText(resp)
	parsed, err := parseExtraction(raw)
	if err != nil {
		e.logger.Warn("extractor: parsing response failed, proceeding with empty graph payload", "error", err, "raw", raw)
		return nil, nil, nil
	}

	relations := make([]models.Relation, 0, len(parsed.Relations))
	for _, r := range parsed.Relations {
		if r.Src == "" || r.Dst == "" || r.Type == "" {
			continue
		}
		relations = append(relations, models.Relation{Src: r.Src, Type: r.Type, Dst: r.Dst})
	}
	return parsed.Entities, relations, nil
}

func messageText(resp *anthropic.Message) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func parseExtraction(raw string) (rawExtraction, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return rawExtraction{}, fmt.Errorf("no JSON object found in response")
	}

	var parsed rawExtraction
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return rawExtraction{}, fmt.Errorf("unmarshaling extraction response: %w", err)
	}
	return parsed, nil
}
