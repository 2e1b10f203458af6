// Package certify owns the submission review state machine and the analysis
// pipeline that drives it: validate the archive, classify its language, scan
// for restricted API usage, then persist the resulting transition and notify.
package certify

import (
	"context"
	"errors"
	"fmt"

	"github.com/appscale/certhub/internal/analysis"
	"github.com/appscale/certhub/internal/model"
)

// NotAZipMessage is stored on submissions rejected for a malformed container.
const NotAZipMessage = `The file you uploaded was not a zip file. Please upload a zip file for
certification and try again.`

// UnknownLanguageMessage is stored when no marker file identifies the app.
const UnknownLanguageMessage = `We could not determine if your application was a Python or Java Google App
Engine application. If it is, please contact certify@appscale.com with the
file you uploaded.`

// RecordStore is the slice of the submission repository the pipeline needs.
type RecordStore interface {
	Get(ctx context.Context, id string) (*model.Submission, error)
	Update(ctx context.Context, sub *model.Submission) error
}

// BlobFetcher loads an uploaded archive back out of blob storage.
type BlobFetcher interface {
	Download(ctx context.Context, objectKey string) ([]byte, error)
}

// Notifier dispatches one outcome message per transition.
type Notifier interface {
	Notify(ctx context.Context, sub *model.Submission) error
}

// Pipeline runs the certification flow for one submission at a time.
type Pipeline struct {
	records RecordStore
	blobs   BlobFetcher
	mail    Notifier
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(records RecordStore, blobs BlobFetcher, mail Notifier) *Pipeline {
	return &Pipeline{records: records, blobs: blobs, mail: mail}
}

// Analyze executes the full pipeline for the submission: validator, classifier
// and scanner, short-circuiting on the first failure. Failures drive the
// auto-reject transition; a successful scan stores the evidence report and
// leaves the submission awaiting review. Either way the submitter is notified.
// A submission already examined is left untouched, which makes redelivered
// jobs harmless.
func (p *Pipeline) Analyze(ctx context.Context, id string) error {
	sub, err := p.records.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if sub.Examined {
		return nil
	}

	blob, err := p.blobs.Download(ctx, sub.ObjectKey)
	if err != nil {
		return fmt.Errorf("fetch archive: %w", err)
	}

	archive, err := analysis.OpenArchive(blob)
	if err != nil {
		if errors.Is(err, analysis.ErrNotZip) {
			return p.reject(ctx, sub, NotAZipMessage)
		}
		return err
	}

	lang, err := analysis.Classify(archive)
	if err != nil {
		if errors.Is(err, analysis.ErrUnknownLanguage) {
			return p.reject(ctx, sub, UnknownLanguageMessage)
		}
		return err
	}

	report, err := analysis.Scan(archive, lang)
	if err != nil {
		if errors.Is(err, analysis.ErrUnsupportedLanguage) {
			return p.reject(ctx, sub, fmt.Sprintf("%s not implemented yet", lang))
		}
		return err
	}

	sub.EvidenceReport = report
	if err := p.records.Update(ctx, sub); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return p.mail.Notify(ctx, sub)
}

// Review applies a human decision to a submission awaiting review. The note
// overwrites any earlier certification notes only when non-empty. Evidence
// reports are never touched by a review, and no notification is sent.
func (p *Pipeline) Review(ctx context.Context, id string, approve bool, note string) error {
	sub, err := p.records.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	sub.Examined = true
	sub.Passed = approve
	if note != "" {
		sub.CertificationNotes = note
	}
	if err := p.records.Update(ctx, sub); err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

// reject applies the terminal auto-reject transition and notifies the owner.
// Re-applying it with the same reason is a no-op overwrite.
func (p *Pipeline) reject(ctx context.Context, sub *model.Submission, reason string) error {
	sub.Examined = true
	sub.Passed = false
	sub.CertificationNotes = reason
	if err := p.records.Update(ctx, sub); err != nil {
		return fmt.Errorf("save rejection: %w", err)
	}
	return p.mail.Notify(ctx, sub)
}
