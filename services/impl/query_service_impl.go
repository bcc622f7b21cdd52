package impl

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/raglab-search/config"
	"github.com/raglab-search/models"
	"github.com/raglab-search/services"
	"github.com/raglab-search/services/bm25"
	"github.com/raglab-search/services/filter"
)

// indexFetchConcurrency bounds parallel lexical index and chunk text loads.
const indexFetchConcurrency = 10

// queryServiceImpl runs the retrieval pipeline: dense candidate search,
// optional lexical fusion, optional LLM reranking, then hydration of the
// final chunk texts from the object store.
type queryServiceImpl struct {
	db       *gorm.DB
	storage  services.ObjectStorageService
	embedder services.EmbeddingService
	reranker services.RerankService
	cache    services.QueryCacheService
	cfg      *config.SearchConfig
}

func NewQueryService(db *gorm.DB, storage services.ObjectStorageService, embedder services.EmbeddingService, reranker services.RerankService, cache services.QueryCacheService, cfg *config.SearchConfig) services.QueryService {
	return &queryServiceImpl{
		db:       db,
		storage:  storage,
		embedder: embedder,
		reranker: reranker,
		cache:    cache,
		cfg:      cfg,
	}
}

// candidate is one chunk surviving the dense search, carrying the document
// columns needed to build a result without a second database round trip.
type candidate struct {
	ChunkID      int64                   `gorm:"column:chunk_id"`
	ChunkIndex   int                     `gorm:"column:chunk_index"`
	DocumentID   int64                   `gorm:"column:document_id"`
	DocumentUUID uuid.UUID               `gorm:"column:document_uuid"`
	Filename     string                  `gorm:"column:filename"`
	Summary      *string                 `gorm:"column:summary"`
	Metadata     models.DocumentMetadata `gorm:"column:metadata"`
	Keywords     pq.StringArray          `gorm:"column:keywords;type:text[]"`
	TokenCount   int                     `gorm:"column:token_count"`
	Similarity   float64                 `gorm:"column:similarity"`

	rerankScore     *float64
	rerankReasoning *string
	chunkText       string
}

func (s *queryServiceImpl) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, models.NewServiceError(models.ErrKindInvalidRequest, "query must not be empty")
	}

	topK := req.TopK
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK < 1 || topK > s.cfg.MaxTopK {
		return nil, models.NewServiceError(models.ErrKindInvalidRequest,
			fmt.Sprintf("top_k must be between 1 and %d", s.cfg.MaxTopK))
	}
	if req.MinSimilarity < 0 || req.MinSimilarity > 1 {
		return nil, models.NewServiceError(models.ErrKindInvalidRequest, "min_similarity must be between 0 and 1")
	}

	rerankCandidates := req.RerankCandidates
	if rerankCandidates <= 0 {
		rerankCandidates = 2 * topK
	}

	compiled, err := filter.Compile(req.Filters)
	if err != nil {
		return nil, err
	}

	cacheKey := s.cache.HashRequest(req)
	if cached, hit := s.cache.Get(ctx, cacheKey); hit {
		return cached, nil
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	// Fusion and reranking both reorder the dense candidates, so they work
	// over a wider pool than top_k.
	poolSize := topK
	if req.Hybrid() || req.Rerank {
		poolSize = max(s.cfg.MinCandidatePool, rerankCandidates)
	}

	candidates, err := s.denseSearch(ctx, queryVector, compiled, req.MinSimilarity, poolSize)
	if err != nil {
		return nil, err
	}

	if req.Hybrid() {
		candidates = s.fuseWithLexical(ctx, req.Query, candidates)
	}

	reranked := false
	if req.Rerank && len(candidates) > 0 {
		candidates, err = s.rerank(ctx, req.Query, candidates, rerankCandidates)
		if err != nil {
			return nil, err
		}
		reranked = true
	}

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	candidates, err = s.hydrate(ctx, candidates)
	if err != nil {
		return nil, err
	}

	resp := &models.QueryResponse{
		Query:    req.Query,
		Total:    len(candidates),
		Hybrid:   req.Hybrid(),
		Reranked: reranked,
		Results:  make([]models.QueryResultItem, 0, len(candidates)),
	}
	for _, c := range candidates {
		resp.Results = append(resp.Results, models.QueryResultItem{
			ChunkText:        c.chunkText,
			Similarity:       c.Similarity,
			RerankScore:      c.rerankScore,
			RerankReasoning:  c.rerankReasoning,
			Filename:         c.Filename,
			ChunkIndex:       c.ChunkIndex,
			DocumentID:       c.DocumentID,
			DocumentUUID:     c.DocumentUUID.String(),
			Summary:          c.Summary,
			DocumentMetadata: c.Metadata,
		})
	}

	if err := s.cache.Set(ctx, cacheKey, resp); err != nil {
		log.Printf("failed to cache query response: %v", err)
	}

	return resp, nil
}

// denseSearch runs cosine similarity over the chunk table with the compiled
// filter applied to the joined document row. Ties on distance break on chunk
// id for deterministic ordering.
func (s *queryServiceImpl) denseSearch(ctx context.Context, queryVector []float32, compiled *filter.Compiled, minSimilarity float64, limit int) ([]*candidate, error) {
	vec := pgvector.NewVector(queryVector)

	sql := fmt.Sprintf(`
		SELECT c.id AS chunk_id, c.chunk_index, c.original_doc_id AS document_id,
		       d.uuid AS document_uuid, d.filename, d.summary, d.metadata, d.keywords, d.token_count,
		       1 - (c.embedding <=> ?) AS similarity
		FROM document_chunks c
		JOIN original_documents d ON d.id = c.original_doc_id
		WHERE (%s) AND 1 - (c.embedding <=> ?) >= ?
		ORDER BY c.embedding <=> ? ASC, c.id ASC
		LIMIT ?`, compiled.SQL)

	args := []any{vec}
	args = append(args, compiled.Args...)
	args = append(args, vec, minSimilarity, vec, limit)

	var rows []*candidate
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, models.WrapServiceError(models.ErrKindStoreUnavailable, "vector search failed", err)
	}
	return rows, nil
}

// fuseWithLexical blends the dense ranking with a document-level BM25 ranking
// through reciprocal rank fusion. Lexical scoring is best effort: documents
// whose index cannot be loaded score zero and only the dense signal orders
// their chunks.
func (s *queryServiceImpl) fuseWithLexical(ctx context.Context, query string, candidates []*candidate) []*candidate {
	if len(candidates) < 2 {
		return candidates
	}

	queryTerms := bm25.Tokenize(query)
	if len(queryTerms) == 0 {
		return candidates
	}

	docScores := s.lexicalDocScores(ctx, queryTerms, candidates)

	denseRank := make([]string, len(candidates))
	byKey := make(map[string]*candidate, len(candidates))
	for i, c := range candidates {
		key := strconv.FormatInt(c.ChunkID, 10)
		denseRank[i] = key
		byKey[key] = c
	}

	// Lexical ranking: chunks ordered by their document's BM25 score. Chunks
	// of unmatched documents are absent and get no lexical contribution.
	type scored struct {
		key   string
		score float64
		id    int64
	}
	var lexical []scored
	for _, c := range candidates {
		score := docScores[c.DocumentUUID]
		if score > 0 {
			lexical = append(lexical, scored{key: strconv.FormatInt(c.ChunkID, 10), score: score, id: c.ChunkID})
		}
	}
	sort.Slice(lexical, func(i, j int) bool {
		if lexical[i].score != lexical[j].score {
			return lexical[i].score > lexical[j].score
		}
		return lexical[i].id < lexical[j].id
	})
	lexicalRank := make([]string, len(lexical))
	for i, item := range lexical {
		lexicalRank[i] = item.key
	}

	fusedOrder := bm25.FuseOrdered(denseRank, lexicalRank)

	fused := make([]*candidate, 0, len(candidates))
	for _, key := range fusedOrder {
		if c, ok := byKey[key]; ok {
			fused = append(fused, c)
		}
	}
	return fused
}

// lexicalDocScores loads each distinct document's term index in parallel and
// scores it against the query terms.
func (s *queryServiceImpl) lexicalDocScores(ctx context.Context, queryTerms []string, candidates []*candidate) map[uuid.UUID]float64 {
	type docInfo struct {
		tokenCount int
		keywords   []string
	}
	docs := make(map[uuid.UUID]docInfo)
	for _, c := range candidates {
		if _, seen := docs[c.DocumentUUID]; !seen {
			docs[c.DocumentUUID] = docInfo{tokenCount: c.TokenCount, keywords: c.Keywords}
		}
	}

	scores := make(map[uuid.UUID]float64, len(docs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexFetchConcurrency)
	for docUUID, info := range docs {
		g.Go(func() error {
			index, err := s.storage.FetchBM25Index(gctx, docUUID)
			if err != nil {
				log.Printf("lexical index unavailable for document %s, scoring zero: %v", docUUID, err)
				return nil
			}
			score := bm25.Score(queryTerms, index.TermFrequencies, info.tokenCount, info.keywords)
			mu.Lock()
			scores[docUUID] = score
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return scores
}

// rerank judges the top candidates with the LLM and reorders them by judged
// relevance. Judging needs the chunk texts, so candidates hydrate first.
func (s *queryServiceImpl) rerank(ctx context.Context, query string, candidates []*candidate, rerankCandidates int) ([]*candidate, error) {
	if len(candidates) > rerankCandidates {
		candidates = candidates[:rerankCandidates]
	}
	candidates, err := s.hydrate(ctx, candidates)
	if err != nil {
		return nil, err
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.chunkText
	}

	results, err := s.reranker.Rerank(ctx, query, passages)
	if err != nil {
		return nil, models.WrapServiceError(models.ErrKindInternal, "reranking failed", err)
	}

	for _, r := range results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		c := candidates[r.Index]
		score := r.Score
		c.rerankScore = &score
		if r.Reasoning != "" {
			reasoning := r.Reasoning
			c.rerankReasoning = &reasoning
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return derefScore(candidates[i].rerankScore) > derefScore(candidates[j].rerankScore)
	})
	return candidates, nil
}

func derefScore(score *float64) float64 {
	if score == nil {
		return 0
	}
	return *score
}

// hydrate loads chunk texts from the object store in parallel. A chunk whose
// payload cannot be loaded is dropped from the results rather than failing
// the whole query, but losing every candidate means the two storage tiers
// disagree and is surfaced as an error. Already-hydrated candidates are
// skipped.
func (s *queryServiceImpl) hydrate(ctx context.Context, candidates []*candidate) ([]*candidate, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexFetchConcurrency)

	failed := make([]bool, len(candidates))
	for i, c := range candidates {
		if c.chunkText != "" {
			continue
		}
		g.Go(func() error {
			payload, err := s.storage.FetchChunk(gctx, c.DocumentUUID, c.ChunkIndex)
			if err != nil {
				log.Printf("failed to load chunk %d of document %s, dropping from results: %v",
					c.ChunkIndex, c.DocumentUUID, err)
				failed[i] = true
				return nil
			}
			c.chunkText = payload.Text
			return nil
		})
	}
	_ = g.Wait()

	out := candidates[:0]
	for i, c := range candidates {
		if !failed[i] {
			out = append(out, c)
		}
	}
	if len(out) == 0 && len(failed) > 0 {
		return nil, models.NewServiceError(models.ErrKindInconsistent,
			"no chunk payloads could be loaded for the matched results")
	}
	return out, nil
}

func (s *queryServiceImpl) EmbedText(ctx context.Context, text string) (*models.EmbedResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.NewServiceError(models.ErrKindInvalidRequest, "text must not be empty")
	}
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return &models.EmbedResponse{Embedding: vector, Dimension: len(vector)}, nil
}
