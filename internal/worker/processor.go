package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/appscale/certhub/internal/certify"
	"github.com/appscale/certhub/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	pipeline *certify.Pipeline
}

// NewProcessor constructs a worker processor.
func NewProcessor(pipeline *certify.Pipeline) *Processor {
	return &Processor{pipeline: pipeline}
}

// Handler registers the analyze job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.AnalyzeSubmissionTask, p.handleAnalyze)
	return mux
}

// handleAnalyze runs the certification pipeline for one submission. Format
// and language rejections are terminal transitions handled inside the
// pipeline, so only infrastructure errors bubble up here and trigger asynq's
// retry; every transition is a full-record write, which makes redelivery safe.
func (p *Processor) handleAnalyze(ctx context.Context, task *asynq.Task) error {
	var payload queue.AnalyzePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.pipeline.Analyze(ctx, payload.SubmissionID); err != nil {
		log.Printf("analyze failed for %s: %v", payload.SubmissionID, err)
		return err
	}
	log.Printf("submission %s analyzed", payload.SubmissionID)
	return nil
}
