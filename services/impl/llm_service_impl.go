package impl

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/raglab-search/config"
	"github.com/raglab-search/services"
)

const (
	// insightsMaxAttempts and insightsBaseDelay give 1/2/4/8/16s retry spacing.
	insightsMaxAttempts = 5
	insightsBaseDelay   = time.Second

	// insightsMaxInputChars truncates very large documents before prompting.
	insightsMaxInputChars = 25000

	// insightsMinInputChars skips documents too short to summarize usefully.
	insightsMinInputChars = 100

	// insightsMaxKeywords trims the keyword list the model returns.
	insightsMaxKeywords = 15
)

const insightsSystemPrompt = `You are a document analyst. Given a document's text, produce a JSON object with exactly two fields:
"summary": a 2-3 sentence summary of the document, and
"keywords": an array of 10 to 15 lowercase keywords or short phrases capturing the document's topics.
Respond with JSON only, no prose and no code fences.`

// metadataExtractionServiceImpl derives a summary and keywords from document
// text through a chat completion. Every failure path degrades to empty
// insights; enrichment never blocks ingestion.
type metadataExtractionServiceImpl struct {
	client    openaisdk.Client
	model     string
	enabled   bool
	baseDelay time.Duration
}

func NewMetadataExtractionService(cfg *config.LLMConfig, enabled bool) services.MetadataExtractionService {
	return &metadataExtractionServiceImpl{
		client:    openaisdk.NewClient(providerClientOptions(cfg.BaseURL, cfg.APIKey, cfg.Timeout)...),
		model:     cfg.Model,
		enabled:   enabled && cfg.APIKey != "",
		baseDelay: insightsBaseDelay,
	}
}

type insightsPayload struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

func (s *metadataExtractionServiceImpl) ExtractInsights(ctx context.Context, text string) services.DocumentInsights {
	empty := services.DocumentInsights{Keywords: []string{}}

	if !s.enabled || len(text) < insightsMinInputChars {
		return empty
	}
	if len(text) > insightsMaxInputChars {
		text = text[:insightsMaxInputChars]
	}

	payload, err := s.extractWithRetry(ctx, text)
	if err != nil {
		log.Printf("insight extraction failed, continuing without summary: %v", err)
		return empty
	}

	insights := services.DocumentInsights{Keywords: normalizeKeywords(payload.Keywords)}
	if summary := strings.TrimSpace(payload.Summary); summary != "" {
		insights.Summary = &summary
	}
	return insights
}

// extractWithRetry prompts the model and parses its reply inside the attempt
// loop, so a malformed response is retried with the same backoff as a
// transient API error.
func (s *metadataExtractionServiceImpl) extractWithRetry(ctx context.Context, text string) (*insightsPayload, error) {
	var lastErr error

	for attempt := 0; attempt < insightsMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.baseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		completion, err := s.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
			Messages: []openaisdk.ChatCompletionMessageParamUnion{
				openaisdk.SystemMessage(insightsSystemPrompt),
				openaisdk.UserMessage(text),
			},
			Model:       openaisdk.ChatModel(s.model),
			Temperature: param.NewOpt(0.2),
		})
		if err != nil {
			lastErr = err
			if isRetriableProviderError(err) {
				continue
			}
			return nil, err
		}

		if len(completion.Choices) == 0 {
			lastErr = errors.New("model returned no choices")
			continue
		}

		payload, err := parseInsights(completion.Choices[0].Message.Content)
		if err != nil {
			lastErr = err
			continue
		}
		return payload, nil
	}

	return nil, lastErr
}

// parseInsights tolerates code fences and leading prose around the JSON body.
func parseInsights(content string) (*insightsPayload, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var payload insightsPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{})
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
		if len(out) == insightsMaxKeywords {
			break
		}
	}
	return out
}
