package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// AnalyzeSubmissionTask is scheduled each time an archive is uploaded.
	AnalyzeSubmissionTask = "submission:analyze"
)

// AnalyzePayload is serialized into the task payload so the worker knows
// which submission to load.
type AnalyzePayload struct {
	SubmissionID string `json:"submission_id"`
}

// Dispatcher hands analysis jobs to asynq. It exists so HTTP handlers can be
// tested against a fake without a Redis connection.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher wraps an asynq client.
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// EnqueueAnalyze schedules the analysis job for a submission.
func (d *Dispatcher) EnqueueAnalyze(ctx context.Context, submissionID string) error {
	return EnqueueAnalyze(ctx, d.client, AnalyzePayload{SubmissionID: submissionID})
}

// EnqueueAnalyze enqueues an analysis job for a submission.
func EnqueueAnalyze(ctx context.Context, client *asynq.Client, payload AnalyzePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(AnalyzeSubmissionTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue analyze task: %w", err)
	}
	return nil
}
