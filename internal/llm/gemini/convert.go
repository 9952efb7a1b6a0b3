package gemini

import (
	"strings"

	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// SourcesKey is the schema.Message Extra key holding grounding sources.
const SourcesKey = "gemini_sources"

// Source is one web page the answer was grounded on.
type Source struct {
	Title string
	URI   string
}

// toContents splits eino messages into Gemini contents and a system instruction.
func toContents(messages []*schema.Message) ([]*genai.Content, *genai.Content) {
	var (
		system   []string
		contents = make([]*genai.Content, 0, len(messages))
	)

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	if len(system) == 0 {
		return contents, nil
	}
	return contents, genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
}

// candidateText concatenates the text parts of the first candidate, skipping thoughts.
func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// groundingSources extracts de-duplicated web sources from the first candidate.
func groundingSources(resp *genai.GenerateContentResponse) []Source {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	meta := resp.Candidates[0].GroundingMetadata
	if meta == nil {
		return nil
	}

	var (
		sources []Source
		seen    = make(map[string]struct{})
	)
	for _, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		if _, dup := seen[chunk.Web.URI]; dup {
			continue
		}
		seen[chunk.Web.URI] = struct{}{}
		title := chunk.Web.Title
		if title == "" {
			title = chunk.Web.URI
		}
		sources = append(sources, Source{Title: title, URI: chunk.Web.URI})
	}
	return sources
}

// SourcesFrom reads grounding sources attached to a message by this package.
func SourcesFrom(msg *schema.Message) []Source {
	if msg == nil || msg.Extra == nil {
		return nil
	}
	sources, _ := msg.Extra[SourcesKey].([]Source)
	return sources
}

func responseMeta(resp *genai.GenerateContentResponse) *schema.ResponseMeta {
	if resp == nil {
		return nil
	}
	meta := &schema.ResponseMeta{}
	if len(resp.Candidates) > 0 {
		meta.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if usage := resp.UsageMetadata; usage != nil {
		meta.Usage = &schema.TokenUsage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
			TotalTokens:      int(usage.TotalTokenCount),
		}
	}
	return meta
}
