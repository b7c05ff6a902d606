// Package ingest runs canonical events through extraction, embedding
// and the dual store writes, then triggers the relationship passes.
//
// Failures are isolated to the smallest unit possible: one event's
// extraction degrades instead of aborting the batch, a bad embedding
// drops the event from the vector write only, and the two bulk store
// writes are attempted independently with no cross-store rollback.
// Re-invoking the same batch is always safe because every write is an
// upsert on a natural key.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/contextiq/backend/internal/util"
	"github.com/contextiq/backend/pkg/ai"
	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/logger"
	"github.com/contextiq/backend/pkg/notify"
	"github.com/contextiq/backend/pkg/store"
	"github.com/contextiq/backend/pkg/vector"

	"golang.org/x/sync/errgroup"
)

// Archiver persists an event's raw payload to long-term storage before
// the store writes. Archival is best effort; a failed archive is
// reported in the batch stats but never blocks ingestion.
type Archiver interface {
	ArchiveEvent(ctx context.Context, event common.CanonicalEvent) error
}

// Orchestrator owns one ingestion pipeline. It is safe for concurrent
// use; overlapping batches converge through the stores' upsert
// semantics rather than application-level locking.
//
// An Orchestrator should be created using NewOrchestrator.
type Orchestrator struct {
	aiClient          ai.PipelineAIClient
	vectors           vector.Index
	graph             store.GraphStore
	notifier          notify.Notifier
	archiver          Archiver
	parallelExtract   int
	maxRetries        int
	agreementLookback time.Duration
}

// NewOrchestratorParams defines the configuration for creating a new
// Orchestrator. AIClient, Vectors and Graph are required; Notifier may
// be nil when no notification transport is wired.
type NewOrchestratorParams struct {
	AIClient ai.PipelineAIClient
	Vectors  vector.Index
	Graph    store.GraphStore
	Notifier notify.Notifier
	// Archiver may be nil when no raw payload archive is wired.
	Archiver Archiver
	// ParallelExtractions bounds the per-event extraction worker pool.
	// Defaults to 4.
	ParallelExtractions int
	// MaxRetries is applied to each event's extraction call before it
	// degrades. Defaults to 3.
	MaxRetries int
	// AgreementLookback limits how far back the agreement pass scans.
	// Defaults to store.DefaultAgreementLookback.
	AgreementLookback time.Duration
}

func NewOrchestrator(params NewOrchestratorParams) (*Orchestrator, error) {
	if params.AIClient == nil {
		return nil, errors.New("ingest: AIClient is required")
	}
	if params.Vectors == nil {
		return nil, errors.New("ingest: Vectors is required")
	}
	if params.Graph == nil {
		return nil, errors.New("ingest: Graph is required")
	}

	parallel := params.ParallelExtractions
	if parallel <= 0 {
		parallel = 4
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	lookback := params.AgreementLookback
	if lookback <= 0 {
		lookback = store.DefaultAgreementLookback
	}

	return &Orchestrator{
		aiClient:          params.AIClient,
		vectors:           params.Vectors,
		graph:             params.Graph,
		notifier:          params.Notifier,
		archiver:          params.Archiver,
		parallelExtract:   parallel,
		maxRetries:        maxRetries,
		agreementLookback: lookback,
	}, nil
}

// Ingest processes one batch of canonical events end to end and reports
// what happened as structured stats. The returned error is non-nil only
// for batch-level store failures the caller should retry; per-event
// failures land in stats.Errors and never abort the batch.
func (o *Orchestrator) Ingest(ctx context.Context, events []common.CanonicalEvent) (common.IngestStats, error) {
	start := time.Now()
	stats := common.IngestStats{EventsIn: len(events)}
	if len(events) == 0 {
		stats.DurationMs = time.Since(start).Milliseconds()
		return stats, nil
	}

	logger.Info("[Ingest] Processing batch", "events", len(events))

	stats.Errors = append(stats.Errors, o.archiveAll(ctx, events)...)

	extractions, extractErrs := o.extractAll(ctx, events)
	stats.Errors = append(stats.Errors, extractErrs...)

	records, embedErrs := o.embedAll(ctx, events, extractions)
	stats.Errors = append(stats.Errors, embedErrs...)

	// The two bulk writes are independent: neither waits on nor aborts
	// the other, and partial success is reported, not rolled back.
	var (
		wg        sync.WaitGroup
		vectorErr error
		graphErr  error
		rejected  []common.IngestError
		written   int
		counters  common.Counters
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		written, rejected, vectorErr = o.vectors.Upsert(ctx, records)
	}()
	go func() {
		defer wg.Done()
		counters, graphErr = o.graph.MergeEvents(ctx, events, extractions)
	}()
	wg.Wait()

	if vectorErr != nil {
		logger.Error("[Ingest] Vector write failed", "err", vectorErr)
		stats.Errors = append(stats.Errors, common.IngestError{
			Stage:   "vector_write",
			Message: vectorErr.Error(),
		})
	} else {
		stats.VectorsWritten = written
		stats.Errors = append(stats.Errors, rejected...)
	}

	if graphErr != nil {
		logger.Error("[Ingest] Graph write failed", "err", graphErr)
		stats.Errors = append(stats.Errors, common.IngestError{
			Stage:   "graph_write",
			Message: graphErr.Error(),
		})
		stats.DurationMs = time.Since(start).Milliseconds()
		return stats, errors.Join(vectorErr, graphErr)
	}

	stats.Graph = counters
	stats.GraphNodesTouched = len(events)

	// Relationship passes read the graph state committed above, so they
	// run strictly after the merge. Both are idempotent; a crash here is
	// recovered by re-running the batch.
	relErr := o.buildRelationships(ctx, &stats)

	stats.DurationMs = time.Since(start).Milliseconds()
	logger.Info("[Ingest] Batch done",
		"events", stats.EventsIn,
		"vectors_written", stats.VectorsWritten,
		"nodes_created", stats.Graph.NodesCreated,
		"relationships_created", stats.Graph.RelationshipsCreated,
		"assignments", stats.AssignmentsMade,
		"agreement_links", stats.AgreementLinks,
		"errors", len(stats.Errors),
		"duration_ms", stats.DurationMs,
	)
	return stats, errors.Join(vectorErr, relErr)
}

// archiveAll writes each event's raw payload to the archive. Failures
// are reported per event and never abort the batch.
func (o *Orchestrator) archiveAll(ctx context.Context, events []common.CanonicalEvent) []common.IngestError {
	if o.archiver == nil {
		return nil
	}
	var errs []common.IngestError
	for _, ev := range events {
		if err := o.archiver.ArchiveEvent(ctx, ev); err != nil {
			logger.Warn("[Ingest] Failed to archive event", "event_id", ev.ID, "err", err)
			errs = append(errs, common.IngestError{
				EventID: ev.ID,
				Stage:   "archive",
				Message: err.Error(),
			})
		}
	}
	return errs
}

// extractAll runs the extraction collaborator over each event in a
// bounded worker pool. A failed extraction degrades to the raw text
// with empty derived lists so the event still reaches both stores.
func (o *Orchestrator) extractAll(ctx context.Context, events []common.CanonicalEvent) ([]common.Extraction, []common.IngestError) {
	extractions := make([]common.Extraction, len(events))
	errsByIdx := make([]*common.IngestError, len(events))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelExtract)
	for i, event := range events {
		idx, ev := i, event
		g.Go(func() error {
			extraction, err := util.RetryWithContext(gCtx, o.maxRetries, func(ctx context.Context) (common.Extraction, error) {
				return o.aiClient.ExtractSignals(ctx, ev.Text)
			})
			if err != nil {
				extractErr := &common.ExtractionError{EventID: ev.ID, Err: err}
				logger.Warn("[Ingest] Extraction degraded", "event_id", ev.ID, "err", err)
				extractions[idx] = common.DegradedExtraction(ev.Text)
				errsByIdx[idx] = &common.IngestError{
					EventID: ev.ID,
					Stage:   "extraction",
					Message: extractErr.Error(),
				}
				return nil
			}
			extractions[idx] = extraction
			return nil
		})
	}
	// Workers only write to their own slot and never return an error.
	_ = g.Wait()

	var errs []common.IngestError
	for _, e := range errsByIdx {
		if e != nil {
			errs = append(errs, *e)
		}
	}
	return extractions, errs
}

// embedAll issues one batched embedding call over the redacted texts
// and assembles the vector records. A batch failure or a bad vector for
// a given event drops that event from the vector write only.
func (o *Orchestrator) embedAll(ctx context.Context, events []common.CanonicalEvent, extractions []common.Extraction) ([]common.VectorRecord, []common.IngestError) {
	inputs := make([][]byte, len(events))
	for i, ex := range extractions {
		inputs[i] = []byte(ex.RedactedText)
	}

	vectors, err := o.aiClient.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		errs := make([]common.IngestError, len(events))
		for i, ev := range events {
			embedErr := &common.EmbeddingError{EventID: ev.ID, Err: err}
			errs[i] = common.IngestError{
				EventID: ev.ID,
				Stage:   "embedding",
				Message: embedErr.Error(),
			}
		}
		logger.Error("[Ingest] Embedding batch failed, dropping batch from vector write", "err", err)
		return nil, errs
	}

	var (
		records []common.VectorRecord
		errs    []common.IngestError
	)
	for i, ev := range events {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			embedErr := &common.EmbeddingError{EventID: ev.ID, Err: fmt.Errorf("empty embedding")}
			errs = append(errs, common.IngestError{
				EventID: ev.ID,
				Stage:   "embedding",
				Message: embedErr.Error(),
			})
			continue
		}
		records = append(records, common.VectorRecord{
			EventID:        ev.ID,
			Embedding:      vectors[i],
			Text:           extractions[i].RedactedText,
			Source:         string(ev.Source),
			Channel:        ev.ChannelOrDefault(),
			UserName:       ev.DisplayName(),
			Timestamp:      ev.Timestamp,
			SentimentLabel: extractions[i].Sentiment.Label,
			SentimentScore: extractions[i].Sentiment.Score,
		})
	}
	return records, errs
}

// buildRelationships runs the task assignment pass, emits one
// notification per new assignment, then runs the agreement pass.
func (o *Orchestrator) buildRelationships(ctx context.Context, stats *common.IngestStats) error {
	assignments, err := o.graph.AssignTasks(ctx)
	if err != nil {
		logger.Error("[Ingest] Task assignment pass failed", "err", err)
		stats.Errors = append(stats.Errors, common.IngestError{
			Stage:   "assign_tasks",
			Message: err.Error(),
		})
		return err
	}
	stats.AssignmentsMade = len(assignments)

	for _, assignment := range assignments {
		o.notifyAssignment(ctx, assignment)
	}

	links, err := o.graph.CreateAgreementLinks(ctx, o.agreementLookback)
	if err != nil {
		logger.Error("[Ingest] Agreement pass failed", "err", err)
		stats.Errors = append(stats.Errors, common.IngestError{
			Stage:   "agreement_links",
			Message: err.Error(),
		})
		return err
	}
	stats.AgreementLinks = links
	return nil
}

func (o *Orchestrator) notifyAssignment(ctx context.Context, assignment store.Assignment) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.Publish(ctx, notify.Notification{
		Type:       notify.TypeNewTask,
		TaskID:     assignment.TaskID,
		TaskText:   assignment.TaskText,
		TaskStatus: assignment.TaskStatus,
		AssigneeID: assignment.AssigneeID,
		Timestamp:  time.Now(),
	})
	if err != nil {
		// Fire and forget: the contract ends at the enqueue attempt.
		logger.Warn("[Ingest] Notification publish failed", "task_id", assignment.TaskID, "err", err)
	}
}
