package safety

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Moderator flags harmful text through an external moderation API.
type Moderator interface {
	Moderate(ctx context.Context, text string) (flagged bool, categories []string, err error)
}

// ModerationClient is the subset of *openai.Client used here.
type ModerationClient interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

// OpenAIModerator implements Moderator with the OpenAI moderation endpoint.
type OpenAIModerator struct {
	client ModerationClient
	model  string
}

// NewOpenAIModerator creates a moderator for apiKey.
func NewOpenAIModerator(apiKey, model string) *OpenAIModerator {
	return NewModerator(openai.NewClient(apiKey), model)
}

// NewModerator wraps an existing moderation client.
func NewModerator(client ModerationClient, model string) *OpenAIModerator {
	if model == "" {
		model = openai.ModerationOmniLatest
	}
	return &OpenAIModerator{client: client, model: model}
}

// Moderate reports whether any result was flagged and by which categories.
func (m *OpenAIModerator) Moderate(ctx context.Context, text string) (bool, []string, error) {
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{Input: text, Model: m.model})
	if err != nil {
		return false, nil, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return false, nil, errors.New("openai moderation: empty result")
	}

	var (
		flagged    bool
		categories []string
	)
	for _, result := range resp.Results {
		if !result.Flagged {
			continue
		}
		flagged = true
		categories = append(categories, flaggedCategories(result.Categories)...)
	}
	return flagged, categories, nil
}

func flaggedCategories(c openai.ResultCategories) []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(c.Hate || c.HateThreatening, "hate")
	add(c.Harassment || c.HarassmentThreatening, "harassment")
	add(c.SelfHarm || c.SelfHarmIntent || c.SelfHarmInstructions, "self-harm")
	add(c.Sexual || c.SexualMinors, "sexual")
	add(c.Violence || c.ViolenceGraphic, "violence")
	return out
}
