// Package retrieval answers natural-language queries by combining
// nearest-neighbor search over the vector index with graph enrichment.
//
// The engine is read only and fully concurrent with ingestion. Ranking
// follows vector distance; graph enrichment attaches context but never
// re-ranks. When the two stores diverge the engine degrades to
// vector-only metadata instead of failing the query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contextiq/backend/pkg/ai"
	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/logger"
	"github.com/contextiq/backend/pkg/store"
	"github.com/contextiq/backend/pkg/vector"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const RoleAdmin = "admin"

// Engine is the retrieval pipeline. An Engine should be created using
// NewEngine.
type Engine struct {
	embedder ai.Embedder
	vectors  vector.Index
	graph    store.GraphStore
	audit    AuditLogger
}

type NewEngineParams struct {
	Embedder ai.Embedder
	Vectors  vector.Index
	Graph    store.GraphStore
	// Audit defaults to LogAuditLogger when nil.
	Audit AuditLogger
}

func NewEngine(params NewEngineParams) (*Engine, error) {
	if params.Embedder == nil {
		return nil, errors.New("retrieval: Embedder is required")
	}
	if params.Vectors == nil {
		return nil, errors.New("retrieval: Vectors is required")
	}
	if params.Graph == nil {
		return nil, errors.New("retrieval: Graph is required")
	}

	audit := params.Audit
	if audit == nil {
		audit = LogAuditLogger{}
	}

	return &Engine{
		embedder: params.Embedder,
		vectors:  params.Vectors,
		graph:    params.Graph,
		audit:    audit,
	}, nil
}

// SearchParams describes one retrieval query. Filters is a conjunction
// of equality predicates over the indexed metadata fields.
type SearchParams struct {
	Query               string
	TopK                int
	Filters             map[string]string
	IncludeGraphContext bool
	Role                string
}

// Search embeds the query, runs the vector search, enriches the hits
// from the graph in one batch fetch and applies role-based text
// selection. Raw text is disclosed only to the admin role, and each
// disclosure emits one audit access record.
func (e *Engine) Search(ctx context.Context, params SearchParams) ([]common.EvidenceItem, error) {
	if params.Query == "" {
		return nil, errors.New("retrieval: query must not be empty")
	}

	queryVector, err := e.embedder.GenerateEmbedding(ctx, []byte(params.Query))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := e.vectors.Search(ctx, queryVector, params.TopK, params.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return []common.EvidenceItem{}, nil
	}

	eventIDs := make([]string, len(hits))
	for i, hit := range hits {
		eventIDs[i] = hit.EventID
	}

	contexts, err := e.graph.FetchEventContext(ctx, eventIDs, params.IncludeGraphContext)
	if err != nil {
		// Graph outage degrades every hit to vector-only metadata.
		logger.Warn("[Retrieval] Graph enrichment unavailable", "err", err)
		contexts = map[string]store.EventContext{}
	}

	items := make([]common.EvidenceItem, 0, len(hits))
	for _, hit := range hits {
		item := common.EvidenceItem{
			EventID:        hit.EventID,
			Score:          hit.Distance,
			Text:           hit.Text,
			Source:         hit.Source,
			Channel:        hit.Channel,
			UserName:       hit.UserName,
			Timestamp:      hit.Timestamp,
			SentimentLabel: hit.SentimentLabel,
			SentimentScore: hit.SentimentScore,
		}

		ec, ok := contexts[hit.EventID]
		if !ok {
			divergence := fmt.Errorf("%w: event %s present in vector index only", common.ErrDivergentReference, hit.EventID)
			logger.Warn("[Retrieval] Store divergence", "event_id", hit.EventID, "err", divergence)
			items = append(items, item)
			continue
		}

		item.Text = ec.RedactedText
		if params.Role == RoleAdmin {
			item.Text = ec.RawText
			e.recordDisclosure(ctx, hit.EventID, params.Role)
		}
		if params.IncludeGraphContext {
			item.GraphContext = ec.Context
		}
		items = append(items, item)
	}

	return items, nil
}

func (e *Engine) recordDisclosure(ctx context.Context, eventID, role string) {
	recordID, err := gonanoid.New()
	if err != nil {
		logger.Warn("[Retrieval] Failed to generate audit record id", "err", err)
		return
	}
	err = e.audit.Record(ctx, AccessRecord{
		ID:        recordID,
		EventID:   eventID,
		Role:      role,
		Action:    ActionViewRawPII,
		Timestamp: time.Now(),
	})
	if err != nil {
		logger.Warn("[Retrieval] Audit record failed", "event_id", eventID, "err", err)
	}
}
