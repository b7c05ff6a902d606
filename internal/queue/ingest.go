package queue

import (
	"context"
	"encoding/json"

	"github.com/contextiq/backend/pkg/ingest"
	"github.com/contextiq/backend/pkg/logger"
	"github.com/contextiq/backend/pkg/normalize"
)

// ProcessIngestMessage handles one ingest_queue delivery: a JSON array
// of canonical events. Malformed records are skipped and logged, valid
// ones are run through the pipeline. The returned error triggers
// retry/DLQ handling for the whole message, so it is reserved for
// batch-level failures; per-event problems are reported through the
// pipeline's own stats.
func ProcessIngestMessage(ctx context.Context, orchestrator *ingest.Orchestrator, msg string) error {
	events, normErrs := normalize.NormalizeBatch([]byte(msg))
	for _, err := range normErrs {
		logger.Warn("[Queue] Skipping malformed record", "err", err)
	}
	if len(events) == 0 {
		logger.Warn("[Queue] No valid events in message", "skipped", len(normErrs))
		return nil
	}

	stats, err := orchestrator.Ingest(ctx, events)
	if err != nil {
		return err
	}

	statsJSON, _ := json.Marshal(stats)
	logger.Info("[Queue] Ingest batch complete", "stats", string(statsJSON))
	return nil
}
