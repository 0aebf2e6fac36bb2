// Package funnel wires codec, simdkernel and store together into the
// three-stage retrieval pipeline: a cheap Hamming scan over every
// document, refined by a Matryoshka-truncated cosine pass over the
// Stage-1 candidates, finalized by an exact full-precision cosine rerank
// of the Stage-2 survivors.
package funnel

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"localmem/internal/codec"
	"localmem/internal/embedding"
	"localmem/internal/engineerr"
	"localmem/internal/errlog"
	"localmem/internal/simdkernel"
	"localmem/internal/store"
)

// defaultTitle is used when metadata["title"] is absent or empty.
const defaultTitle = "Untitled"

// Config holds the funnel's stage widths. K1 bounds Stage 1's Hamming
// candidate set; K2 bounds Stage 2's refined candidate set that Stage 3
// reranks exactly.
type Config struct {
	K1 int
	K2 int
}

// DefaultConfig returns the funnel's defaults (spec.md §9: k1=100, k2=20).
func DefaultConfig() Config {
	return Config{K1: 100, K2: 20}
}

// ContextAugmenter enriches a search result with additional context —
// e.g. a knowledge-graph lookup — after the exact rerank stage. It is an
// optional boundary interface; HybridSearch works without one.
type ContextAugmenter interface {
	Augment(ctx context.Context, result FunnelResult) (json.RawMessage, error)
}

// FunnelResult is one ranked hit returned by Search or HybridSearch.
type FunnelResult struct {
	ID       uuid.UUID
	Score    float64 // cosine similarity in [-1, 1], higher is better
	Title    string
	Content  string
	Metadata json.RawMessage
	Context  json.RawMessage // set only by HybridSearch when a ContextAugmenter is configured
}

// Funnel is the top-level handle applications use to insert documents and
// run the three-stage search pipeline against them.
type Funnel struct {
	store     *store.Store
	embedder  embedding.Embedder
	augmenter ContextAugmenter
	cfg       Config
}

// New builds a Funnel over an already-open Store and Embedder. augmenter
// may be nil.
func New(s *store.Store, embedder embedding.Embedder, augmenter ContextAugmenter, cfg Config) *Funnel {
	if cfg.K1 <= 0 {
		cfg.K1 = DefaultConfig().K1
	}
	if cfg.K2 <= 0 {
		cfg.K2 = DefaultConfig().K2
	}
	return &Funnel{store: s, embedder: embedder, augmenter: augmenter, cfg: cfg}
}

// Insert embeds text, derives the Matryoshka-short and binary-quantized
// vectors from it, and atomically writes all four rows. Title is taken
// from metadata["title"], defaulting to "Untitled" if absent.
// metadata["text"] is always set to text so the stored document is
// self-describing even if the caller's metadata omits it.
func (f *Funnel) Insert(ctx context.Context, text string, metadata map[string]any) (uuid.UUID, error) {
	if text == "" {
		return uuid.Nil, engineerr.New(engineerr.InvalidArgument, "insert: text must not be empty")
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}
	title := defaultTitle
	if t, ok := metadata["title"].(string); ok && t != "" {
		title = t
	}
	metadata["text"] = text

	if err := ctx.Err(); err != nil {
		return uuid.Nil, engineerr.Wrap(engineerr.Cancelled, "insert: context cancelled", err)
	}

	vFull, err := f.embedder.Embed(ctx, text)
	if err != nil {
		return uuid.Nil, err
	}
	if len(vFull) != f.store.Dimension() {
		return uuid.Nil, engineerr.New(engineerr.DimensionMismatch,
			fmt.Sprintf("embedder returned dimension %d, store expects %d", len(vFull), f.store.Dimension()))
	}

	vShort, err := codec.SliceVector(vFull, f.store.ShortDimension())
	if err != nil {
		return uuid.Nil, err
	}
	vBit := codec.EncodeBQ(vFull)

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return uuid.Nil, engineerr.Wrap(engineerr.InvalidArgument, "marshal metadata", err)
	}

	id := uuid.New()
	if err := f.store.Insert(id.String(), title, text, metadataJSON, vFull, vShort, vBit); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Search runs the three-stage funnel for queryVector and returns up to
// topK results ordered by descending cosine similarity. An empty store
// returns an empty, non-nil result set rather than an error.
func (f *Funnel) Search(ctx context.Context, queryVector []float32, topK int) ([]FunnelResult, error) {
	if topK <= 0 {
		return nil, engineerr.New(engineerr.InvalidArgument, "search: topK must be positive")
	}
	if len(queryVector) != f.store.Dimension() {
		return nil, engineerr.New(engineerr.DimensionMismatch,
			fmt.Sprintf("query has dimension %d, store expects %d", len(queryVector), f.store.Dimension()))
	}

	if err := ctx.Err(); err != nil {
		return nil, engineerr.Wrap(engineerr.Cancelled, "search: context cancelled before stage 1", err)
	}

	// Stage 1: cheap Hamming scan over every document's bit vector.
	queryBits := codec.EncodeBQ(queryVector)
	stage1, err := f.store.HammingTopK(queryBits, f.cfg.K1)
	if err != nil {
		return nil, err
	}
	if len(stage1) == 0 {
		return []FunnelResult{}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, engineerr.Wrap(engineerr.Cancelled, "search: context cancelled before stage 2", err)
	}

	// Stage 2: cosine refinement over the Matryoshka-truncated prefix,
	// restricted to the Stage-1 candidate set.
	queryShort, err := codec.SliceVector(queryVector, f.store.ShortDimension())
	if err != nil {
		return nil, err
	}
	stage2, err := f.store.CosineTopKInSet(stage1, queryShort, f.cfg.K2)
	if err != nil {
		return nil, err
	}
	if len(stage2) == 0 {
		return []FunnelResult{}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, engineerr.Wrap(engineerr.Cancelled, "search: context cancelled before stage 3", err)
	}

	// Stage 3: exact full-precision cosine rerank, joined back to the
	// document's content and metadata.
	results := make([]FunnelResult, 0, len(stage2))
	for _, cand := range stage2 {
		full, err := f.store.GetFullVector(cand.ID)
		if err != nil {
			errlog.Debugf("search: skipping candidate %s missing full vector: %v", cand.ID, err)
			continue
		}
		dist, err := simdkernel.CosineDistance(queryVector, full)
		if err != nil {
			errlog.Debugf("search: skipping candidate %s: %v", cand.ID, err)
			continue
		}

		doc, err := f.store.Get(cand.ID)
		if err != nil {
			errlog.Debugf("search: skipping candidate %s missing document row: %v", cand.ID, err)
			continue
		}

		parsedID, err := uuid.Parse(cand.ID)
		if err != nil {
			errlog.Debugf("search: skipping candidate with malformed id %s: %v", cand.ID, err)
			continue
		}

		results = append(results, FunnelResult{
			ID:       parsedID,
			Score:    1 - dist,
			Title:    doc.Title,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// HybridSearch runs Search and, if a ContextAugmenter is configured,
// enriches each result with additional context afterward.
func (f *Funnel) HybridSearch(ctx context.Context, queryVector []float32, topK int) ([]FunnelResult, error) {
	results, err := f.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, err
	}
	if f.augmenter == nil {
		return results, nil
	}
	for i := range results {
		if err := ctx.Err(); err != nil {
			return nil, engineerr.Wrap(engineerr.Cancelled, "hybrid_search: context cancelled during augmentation", err)
		}
		ctxJSON, err := f.augmenter.Augment(ctx, results[i])
		if err != nil {
			errlog.Debugf("hybrid_search: augmentation failed for %s: %v", results[i].ID, err)
			continue
		}
		results[i].Context = ctxJSON
	}
	return results, nil
}
