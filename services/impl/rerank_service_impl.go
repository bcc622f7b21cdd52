package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"golang.org/x/sync/errgroup"

	"github.com/raglab-search/config"
	"github.com/raglab-search/services"
)

const (
	// rerankBatchSize keeps each judging prompt small enough for reliable
	// structured output.
	rerankBatchSize = 2

	// rerankConcurrency bounds in-flight judging requests.
	rerankConcurrency = 10

	// rerankMaxScore is the model's scoring scale; scores normalize to [0,1].
	rerankMaxScore = 10.0
)

const rerankSystemPrompt = `You are a relevance judge. Given a query and numbered passages, rate how relevant each passage is to the query on a scale from 0 to 10, where 0 means completely irrelevant and 10 means directly answers the query.
Respond with a JSON array only, no prose and no code fences. Each element must be an object with fields "index" (the passage number), "relevance_score" (0-10), and "reasoning" (one short sentence).`

// rerankServiceImpl reorders candidate passages with an LLM judge. Batches
// are scored independently and in parallel; a failed batch falls back to
// zero scores rather than failing the query.
type rerankServiceImpl struct {
	client openaisdk.Client
	model  string
}

func NewRerankService(cfg *config.LLMConfig) services.RerankService {
	model := cfg.RerankModel
	if model == "" {
		model = cfg.Model
	}
	return &rerankServiceImpl{
		client: openaisdk.NewClient(providerClientOptions(cfg.BaseURL, cfg.APIKey, cfg.Timeout)...),
		model:  model,
	}
}

type rerankJudgement struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
	Reasoning      string  `json:"reasoning"`
}

func (s *rerankServiceImpl) Rerank(ctx context.Context, query string, passages []string) ([]services.RerankResult, error) {
	results := make([]services.RerankResult, len(passages))
	for i := range results {
		results[i] = services.RerankResult{Index: i}
	}
	if len(passages) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rerankConcurrency)

	for start := 0; start < len(passages); start += rerankBatchSize {
		end := min(start+rerankBatchSize, len(passages))
		g.Go(func() error {
			s.scoreBatch(gctx, query, passages[start:end], results[start:end], start)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// scoreBatch fills scores for one batch in place. On any failure the batch
// keeps its zero scores with OK left false.
func (s *rerankServiceImpl) scoreBatch(ctx context.Context, query string, passages []string, out []services.RerankResult, offset int) {
	judgements, err := s.judge(ctx, query, passages)
	if err != nil {
		log.Printf("rerank batch starting at %d failed, keeping zero scores: %v", offset, err)
		return
	}

	byIndex := make(map[int]rerankJudgement, len(judgements))
	for _, j := range judgements {
		byIndex[j.Index] = j
	}

	for i := range out {
		j, found := byIndex[i]
		if !found {
			// The judge skipped this passage; it scores zero but the batch
			// itself succeeded.
			out[i].OK = true
			continue
		}
		out[i].Score = normalizeJudgeScore(j.RelevanceScore)
		out[i].Reasoning = j.Reasoning
		out[i].OK = true
	}
}

// normalizeJudgeScore clamps a raw 0-10 judgement to the scale and maps it
// into [0,1].
func normalizeJudgeScore(raw float64) float64 {
	if raw < 0 {
		raw = 0
	}
	if raw > rerankMaxScore {
		raw = rerankMaxScore
	}
	return raw / rerankMaxScore
}

func (s *rerankServiceImpl) judge(ctx context.Context, query string, passages []string) ([]rerankJudgement, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Query: %s\n\nPassages:\n", query)
	for i, passage := range passages {
		fmt.Fprintf(&prompt, "[%d] %s\n\n", i, passage)
	}

	completion, err := s.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(rerankSystemPrompt),
			openaisdk.UserMessage(prompt.String()),
		},
		Model:       openaisdk.ChatModel(s.model),
		Temperature: param.NewOpt(0.0),
	})
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	return parseJudgements(completion.Choices[0].Message.Content)
}

func parseJudgements(content string) ([]rerankJudgement, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "["); start >= 0 {
		if end := strings.LastIndex(content, "]"); end > start {
			content = content[start : end+1]
		}
	}

	var judgements []rerankJudgement
	if err := json.Unmarshal([]byte(content), &judgements); err != nil {
		return nil, fmt.Errorf("unparseable judge output: %w", err)
	}
	return judgements, nil
}
