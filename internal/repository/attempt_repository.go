package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduspark/eduspark-backend/internal/model"
)

// ErrVersionConflict signals that an optimistic update lost a race: the row
// changed since it was loaded. Callers reload and decide whether to retry.
var ErrVersionConflict = errors.New("attempt was modified concurrently")

// AttemptResult combines learner data with attempt details for result lists.
type AttemptResult struct {
	AttemptID         uuid.UUID           `json:"attempt_id"`
	LearnerID         uuid.UUID           `json:"learner_id"`
	LearnerName       string              `json:"learner_name"`
	LearnerEmail      string              `json:"learner_email"`
	AttemptNumber     int                 `json:"attempt_number"`
	Status            model.AttemptStatus `json:"status"`
	TotalMarksAwarded float64             `json:"total_marks_awarded"`
	Percentage        float64             `json:"percentage"`
	IsGraded          bool                `json:"is_graded"`
	StartedAt         time.Time           `json:"started_at"`
	SubmittedAt       *time.Time          `json:"submitted_at"`
}

// AttemptRepository handles attempt data access. The sections answer sheet is
// a JSONB document; a version column backs optimistic locking.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, assessment_id, learner_id, attempt_number, status,
	started_at, submitted_at, time_remaining, sections, total_marks_awarded,
	percentage, is_graded, version, created_at, updated_at`

func scanAttempt(row pgxRow) (*model.Attempt, error) {
	at := &model.Attempt{}
	var sections []byte
	err := row.Scan(&at.ID, &at.AssessmentID, &at.LearnerID, &at.AttemptNumber, &at.Status,
		&at.StartedAt, &at.SubmittedAt, &at.TimeRemaining, &sections, &at.TotalMarksAwarded,
		&at.Percentage, &at.IsGraded, &at.Version, &at.CreatedAt, &at.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sections, &at.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	return at, nil
}

// Create inserts a new attempt. The unique constraint on
// (assessment_id, learner_id, attempt_number) combined with
// ON CONFLICT DO NOTHING makes a concurrent duplicate start surface as
// pgx.ErrNoRows, which callers treat as "resume the existing attempt".
func (r *AttemptRepository) Create(ctx context.Context, at *model.Attempt) error {
	sections, err := json.Marshal(at.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (assessment_id, learner_id, attempt_number, status,
		     time_remaining, sections)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (assessment_id, learner_id, attempt_number) DO NOTHING
		 RETURNING id, started_at, version, created_at, updated_at`,
		at.AssessmentID, at.LearnerID, at.AttemptNumber, model.AttemptStatusInProgress,
		at.TimeRemaining, sections,
	).Scan(&at.ID, &at.StartedAt, &at.Version, &at.CreatedAt, &at.UpdatedAt)
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id)
	return scanAttempt(row)
}

// GetInProgress retrieves the learner's in-progress attempt for an
// assessment, if any.
func (r *AttemptRepository) GetInProgress(ctx context.Context, assessmentID, learnerID uuid.UUID) (*model.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE assessment_id = $1 AND learner_id = $2 AND status = $3`,
		assessmentID, learnerID, model.AttemptStatusInProgress)
	return scanAttempt(row)
}

// CountByAssessmentAndLearner returns how many attempts the learner has made.
func (r *AttemptRepository) CountByAssessmentAndLearner(ctx context.Context, assessmentID, learnerID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE assessment_id = $1 AND learner_id = $2`,
		assessmentID, learnerID).Scan(&count)
	return count, err
}

// GetLatest retrieves the learner's most recent attempt for an assessment.
func (r *AttemptRepository) GetLatest(ctx context.Context, assessmentID, learnerID uuid.UUID) (*model.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE assessment_id = $1 AND learner_id = $2
		 ORDER BY attempt_number DESC
		 LIMIT 1`, assessmentID, learnerID)
	return scanAttempt(row)
}

// Update persists the full mutable state of an attempt under optimistic
// locking. Returns ErrVersionConflict when the stored version moved on.
func (r *AttemptRepository) Update(ctx context.Context, at *model.Attempt) error {
	sections, err := json.Marshal(at.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, submitted_at = $2, time_remaining = $3, sections = $4,
		     total_marks_awarded = $5, percentage = $6, is_graded = $7,
		     version = version + 1, updated_at = NOW()
		 WHERE id = $8 AND version = $9`,
		at.Status, at.SubmittedAt, at.TimeRemaining, sections,
		at.TotalMarksAwarded, at.Percentage, at.IsGraded,
		at.ID, at.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	at.Version++
	return nil
}

// ListByLearner retrieves all attempts for a learner, newest first.
func (r *AttemptRepository) ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE learner_id = $1
		 ORDER BY started_at DESC`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		at, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *at)
	}
	return attempts, rows.Err()
}

// ListExpired retrieves in-progress attempts whose deadline has passed,
// joined against the catalog for the authoritative duration. Used by the
// background sweeper.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+prefixedAttemptColumns("at")+`
		 FROM attempts at
		 JOIN assessments a ON a.id = at.assessment_id
		 WHERE at.status = $1
		   AND at.started_at + make_interval(mins => a.duration_minutes) <= $2
		 ORDER BY at.started_at ASC
		 LIMIT $3`,
		model.AttemptStatusInProgress, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		at, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *at)
	}
	return attempts, rows.Err()
}

// ListByAssessment retrieves paginated attempt results for an assessment,
// joined with learner identity for the grading views.
func (r *AttemptRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID, page, perPage int) ([]AttemptResult, int, error) {
	offset := (page - 1) * perPage

	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE assessment_id = $1`, assessmentID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT at.id, at.learner_id, u.name, u.email, at.attempt_number, at.status,
		        at.total_marks_awarded, at.percentage, at.is_graded, at.started_at, at.submitted_at
		 FROM attempts at
		 JOIN users u ON u.id = at.learner_id
		 WHERE at.assessment_id = $1
		 ORDER BY u.name ASC, at.attempt_number ASC
		 LIMIT $2 OFFSET $3`,
		assessmentID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []AttemptResult
	for rows.Next() {
		var res AttemptResult
		if err := rows.Scan(&res.AttemptID, &res.LearnerID, &res.LearnerName, &res.LearnerEmail,
			&res.AttemptNumber, &res.Status, &res.TotalMarksAwarded, &res.Percentage,
			&res.IsGraded, &res.StartedAt, &res.SubmittedAt); err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}

// UpdateTimeRemaining persists the advisory heartbeat cache without touching
// the version. LEAST keeps the stored value monotonically non-increasing.
func (r *AttemptRepository) UpdateTimeRemaining(ctx context.Context, id uuid.UUID, seconds int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET time_remaining = LEAST(time_remaining, $1), updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		seconds, id, model.AttemptStatusInProgress)
	return err
}

func prefixedAttemptColumns(alias string) string {
	return alias + `.id, ` + alias + `.assessment_id, ` + alias + `.learner_id, ` +
		alias + `.attempt_number, ` + alias + `.status, ` + alias + `.started_at, ` +
		alias + `.submitted_at, ` + alias + `.time_remaining, ` + alias + `.sections, ` +
		alias + `.total_marks_awarded, ` + alias + `.percentage, ` + alias + `.is_graded, ` +
		alias + `.version, ` + alias + `.created_at, ` + alias + `.updated_at`
}
