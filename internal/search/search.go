// Package search answers the three query shapes over the chunk index:
// hybrid (keyword + vector), exact (filtered keyword with sort modes), and
// instant (paginated with a fixed tie-break ladder).
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"msgvault/internal/docstore"
)

const defaultLimit = 10

// Embedder turns query text into a vector. Best effort: nil means the
// vector signal is skipped, never an error.
type Embedder interface {
	EmbedText(ctx context.Context, text string) []float64
}

// Engine composes the chunk index with the embedding capability.
type Engine struct {
	docs     *docstore.Store
	embedder Embedder
	loc      *time.Location
}

// New builds an Engine. embedder may be nil (keyword-only search); a nil
// location falls back to time.Local.
func New(docs *docstore.Store, embedder Embedder, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{docs: docs, embedder: embedder, loc: loc}
}

// HybridRequest is the semantic search shape: optional keyword text plus an
// optional precomputed query embedding, under hard filters.
type HybridRequest struct {
	Query          string
	QueryEmbedding []float64
	Filters        docstore.Filters
	Limit          int
}

// Hybrid sums the normalized keyword and vector signals. A document without
// an embedding scores 0 on the vector signal, never errors.
func (e *Engine) Hybrid(ctx context.Context, req HybridRequest) ([]Result, error) {
	if err := e.docs.Ping(ctx); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	// Keyword signal: BM25 over an OR match, normalized to [0,1].
	keyword := map[string]float64{}
	if query != "" {
		expr := orExpr(tokenize(query))
		if expr != "" {
			hits, err := e.docs.Match(ctx, expr, req.Filters, limit*10)
			if err != nil {
				return nil, err
			}
			maxBM25 := 0.0
			for _, h := range hits {
				if h.BM25 > maxBM25 {
					maxBM25 = h.BM25
				}
			}
			for _, h := range hits {
				if maxBM25 > 0 {
					keyword[h.ID] = h.BM25 / maxBM25
				}
			}
		}
	}

	// Vector signal: normalized cosine against every filtered embedding.
	vector := map[string]float64{}
	queryVec := req.QueryEmbedding
	if len(queryVec) == 0 && query != "" && e.embedder != nil {
		queryVec = e.embedder.EmbedText(ctx, query)
	}
	if len(queryVec) > 0 {
		stored, err := e.docs.Embeddings(ctx, req.Filters)
		if err != nil {
			return nil, err
		}
		for id, vec := range stored {
			if sim := docstore.CosineSimilarity(queryVec, vec); sim != 0 {
				vector[id] = docstore.NormalizeCosine(sim)
			}
		}
	}

	if len(keyword) == 0 && len(vector) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, 0, len(keyword)+len(vector))
	seen := map[string]bool{}
	for id := range keyword {
		seen[id] = true
		ids = append(ids, id)
	}
	for id := range vector {
		if !seen[id] {
			ids = append(ids, id)
		}
	}

	docs, err := e.docs.Documents(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		doc, ok := docs[id]
		if !ok {
			continue
		}
		score := keyword[id] + vector[id]
		results = append(results, e.format(doc, score))
	}

	sortByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SortMode orders exact-search results.
type SortMode string

const (
	SortRelevance SortMode = "relevance"
	SortNewest    SortMode = "newest"
	SortOldest    SortMode = "oldest"
)

// ExactRequest is the filtered keyword shape: no vector signal.
type ExactRequest struct {
	Query   string
	Filters docstore.Filters
	Sort    SortMode
	Limit   int
}

// Exact matches the query as a contiguous phrase when possible, else
// requires every term (AND).
func (e *Engine) Exact(ctx context.Context, req ExactRequest) ([]Result, error) {
	if err := e.docs.Ping(ctx); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("search: query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []Result{}, nil
	}

	// Phrase dominates when it matches at all.
	expr := phraseExpr(terms)
	count, err := e.docs.CountMatches(ctx, expr, req.Filters)
	if err != nil {
		return nil, err
	}
	if count == 0 && len(terms) > 1 {
		expr = andExpr(terms)
	}

	hits, err := e.docs.Match(ctx, expr, req.Filters, limit*10)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(hits))
	scores := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scores[h.ID] = h.BM25
	}
	docs, err := e.docs.Documents(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		doc, ok := docs[id]
		if !ok {
			continue
		}
		results = append(results, e.format(doc, scores[id]))
	}

	switch req.Sort {
	case SortNewest, "":
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].startTS > results[j].startTS
		})
	case SortOldest:
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].startTS < results[j].startTS
		})
	case SortRelevance:
		sortByScore(results)
	default:
		return nil, fmt.Errorf("search: unknown sort mode %q", req.Sort)
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Tier weights of the instant ladder. Tiers dominate raw relevance: phrase
// beats all-terms beats any number of partial term credits.
const (
	tierPhrase   = 1000.0
	tierAllTerms = 100.0
	tierPerTerm  = 10.0
)

// InstantRequest is the paginated shape with deterministic ordering.
type InstantRequest struct {
	Query   string
	Filters docstore.Filters
	Limit   int
	Offset  int
}

// Page is one instant-search page plus pagination state.
type Page struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// Instant ranks candidates on the tier ladder: exact phrase, then all terms
// present, then per-term partial credit excluding stop words. Normalized
// relevance (< 1.0) breaks ties inside a tier; timestamp descending is the
// final tiebreak.
func (e *Engine) Instant(ctx context.Context, req InstantRequest) (*Page, error) {
	if err := e.docs.Ping(ctx); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("search: query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return &Page{Results: []Result{}, Offset: offset}, nil
	}

	// Candidate set: any term matches; single-word queries also match as a
	// prefix.
	expr := orExpr(terms)
	if len(terms) == 1 {
		expr = prefixExpr(terms[0])
	}

	total, err := e.docs.CountMatches(ctx, expr, req.Filters)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &Page{Results: []Result{}, Total: 0, Offset: offset}, nil
	}

	hits, err := e.docs.Match(ctx, expr, req.Filters, total)
	if err != nil {
		return nil, err
	}

	maxBM25 := 0.0
	for _, h := range hits {
		if h.BM25 > maxBM25 {
			maxBM25 = h.BM25
		}
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	docs, err := e.docs.Documents(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Phrase probe from the tokenized terms, so query punctuation or doubled
	// spaces cannot defeat the phrase tier.
	phrase := strings.Join(terms, " ")
	scored := tokenizeScorable(terms)

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		doc, ok := docs[h.ID]
		if !ok {
			continue
		}
		text := strings.ToLower(doc.Text)

		score := 0.0
		if strings.Contains(text, phrase) {
			score += tierPhrase
		}
		all := true
		for _, term := range terms {
			if !strings.Contains(text, term) {
				all = false
				break
			}
		}
		if all {
			score += tierAllTerms
		}
		for _, term := range scored {
			if strings.Contains(text, term) {
				score += tierPerTerm
			}
		}
		// Base relevance stays below 1.0 so it can never cross a tier.
		if maxBM25 > 0 {
			score += 0.99 * h.BM25 / maxBM25
		}

		results = append(results, e.format(doc, score))
	}

	sortByScore(results)

	if offset >= len(results) {
		return &Page{Results: []Result{}, Total: total, Offset: offset, HasMore: false}, nil
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	page := results[offset:end]

	return &Page{
		Results: page,
		Total:   total,
		Offset:  offset,
		HasMore: offset+len(page) < total,
	}, nil
}

// Browse lists filtered chunks newest first without a keyword query.
func (e *Engine) Browse(ctx context.Context, f docstore.Filters, limit, offset int) (*Page, error) {
	if err := e.docs.Ping(ctx); err != nil {
		return nil, err
	}
	docs, total, err := e.docs.Recent(ctx, f, limit, offset)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, e.format(d, 0))
	}
	return &Page{
		Results: results,
		Total:   total,
		Offset:  offset,
		HasMore: offset+len(results) < total,
	}, nil
}

func sortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].startTS > results[j].startTS
	})
}
