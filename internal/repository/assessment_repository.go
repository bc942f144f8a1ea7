package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduspark/eduspark-backend/internal/model"
)

// AssessmentRepository handles assessment catalog data access. The attempt
// engine treats the catalog as read-only; the authoring surface writes here.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

const assessmentColumns = `id, course_id, kind, title, sections, duration_minutes,
	starts_at, ends_at, is_published, passing_percentage, max_attempts,
	total_marks, created_by, created_at, updated_at`

func scanAssessment(row pgxRow) (*model.Assessment, error) {
	a := &model.Assessment{}
	var sections []byte
	err := row.Scan(&a.ID, &a.CourseID, &a.Kind, &a.Title, &sections, &a.DurationMinutes,
		&a.StartsAt, &a.EndsAt, &a.IsPublished, &a.PassingPercentage, &a.MaxAttempts,
		&a.TotalMarks, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sections, &a.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	return a, nil
}

// pgxRow is the shared scan surface of pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...any) error
}

// GetByID retrieves an assessment by its UUID.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id)
	return scanAssessment(row)
}

// Create inserts a new assessment as unpublished.
func (r *AssessmentRepository) Create(ctx context.Context, a *model.Assessment) error {
	sections, err := json.Marshal(a.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO assessments (course_id, kind, title, sections, duration_minutes,
		     starts_at, ends_at, is_published, passing_percentage, max_attempts,
		     total_marks, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		a.CourseID, a.Kind, a.Title, sections, a.DurationMinutes,
		a.StartsAt, a.EndsAt, a.PassingPercentage, a.MaxAttempts,
		a.TotalMarks, a.CreatedBy,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// Publish marks an assessment as published and freezes its total marks.
func (r *AssessmentRepository) Publish(ctx context.Context, id uuid.UUID, totalMarks float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE assessments
		 SET is_published = TRUE, total_marks = $1, updated_at = NOW()
		 WHERE id = $2`,
		totalMarks, id)
	return err
}

// ListPublished retrieves every published assessment, used to prewarm the
// payload cache at boot.
func (r *AssessmentRepository) ListPublished(ctx context.Context) ([]model.Assessment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE is_published = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, *a)
	}
	return assessments, rows.Err()
}

// ListByCourse retrieves assessments for a course, newest first.
func (r *AssessmentRepository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.Assessment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM assessments
		 WHERE course_id = $1
		 ORDER BY created_at DESC`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, *a)
	}
	return assessments, rows.Err()
}
