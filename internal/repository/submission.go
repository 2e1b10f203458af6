package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appscale/certhub/internal/model"
)

// ErrNotFound is returned when no submission exists for an id.
var ErrNotFound = errors.New("submission not found")

// SubmissionRepository wraps all SQL used by the API and worker.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository constructs a repository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

const submissionColumns = `id, name, size, owner, owner_email, object_key,
	examined, passed, certification_notes, evidence_report, created_at, updated_at`

// Create inserts a submission right after upload, before analysis begins.
func (r *SubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO submissions (id, name, size, owner, owner_email, object_key,
			examined, passed, certification_notes, evidence_report, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sub.ID, sub.Name, sub.Size, sub.Owner, sub.OwnerEmail, sub.ObjectKey,
		sub.Examined, sub.Passed, sub.CertificationNotes, sub.EvidenceReport,
		sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Get returns a submission by id.
func (r *SubmissionRepository) Get(ctx context.Context, id string) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select submission: %w", err)
	}
	return sub, nil
}

// Update writes the full record back. Transitions are whole-record writes so
// that replaying one under at-least-once delivery is a harmless overwrite.
func (r *SubmissionRepository) Update(ctx context.Context, sub *model.Submission) error {
	sub.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE submissions
		SET name=$1, size=$2, owner=$3, owner_email=$4, object_key=$5,
			examined=$6, passed=$7, certification_notes=$8, evidence_report=$9, updated_at=$10
		WHERE id=$11
	`, sub.Name, sub.Size, sub.Owner, sub.OwnerEmail, sub.ObjectKey,
		sub.Examined, sub.Passed, sub.CertificationNotes, sub.EvidenceReport,
		sub.UpdatedAt, sub.ID)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	return nil
}

// ListByOwner returns every submission owned by the given identity, newest first.
func (r *SubmissionRepository) ListByOwner(ctx context.Context, owner string) ([]*model.Submission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+submissionColumns+`
		FROM submissions WHERE owner=$1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list by owner: %w", err)
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

// ListUnexamined returns submissions still waiting for a decision, oldest first.
func (r *SubmissionRepository) ListUnexamined(ctx context.Context) ([]*model.Submission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+submissionColumns+`
		FROM submissions WHERE examined=FALSE ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unexamined: %w", err)
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

// CountAll returns the total number of submissions.
func (r *SubmissionRepository) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

// CountExamined counts examined submissions by outcome.
func (r *SubmissionRepository) CountExamined(ctx context.Context, passed bool) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE examined=TRUE AND passed=$1`, passed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count examined: %w", err)
	}
	return n, nil
}

// CountUnexamined counts submissions still awaiting review.
func (r *SubmissionRepository) CountUnexamined(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE examined=FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unexamined: %w", err)
	}
	return n, nil
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var sub model.Submission
	err := row.Scan(&sub.ID, &sub.Name, &sub.Size, &sub.Owner, &sub.OwnerEmail,
		&sub.ObjectKey, &sub.Examined, &sub.Passed, &sub.CertificationNotes,
		&sub.EvidenceReport, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func collectSubmissions(rows pgx.Rows) ([]*model.Submission, error) {
	var out []*model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}
