package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduspark/eduspark-backend/internal/model"
)

// GradeRepository handles grade projection data access.
type GradeRepository struct {
	pool *pgxpool.Pool
}

// NewGradeRepository creates a new GradeRepository.
func NewGradeRepository(pool *pgxpool.Pool) *GradeRepository {
	return &GradeRepository{pool: pool}
}

const gradeColumns = `id, attempt_id, assessment_id, learner_id, sections,
	total_marks_awarded, max_marks, percentage, status, created_at, updated_at`

func scanGrade(row pgxRow) (*model.Grade, error) {
	g := &model.Grade{}
	var sections []byte
	err := row.Scan(&g.ID, &g.AttemptID, &g.AssessmentID, &g.LearnerID, &sections,
		&g.TotalMarksAwarded, &g.MaxMarks, &g.Percentage, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sections, &g.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	return g, nil
}

// Create inserts a grade. The unique constraint on attempt_id with
// ON CONFLICT DO NOTHING makes a duplicate projection surface as
// pgx.ErrNoRows, which callers translate to an already-graded error.
func (r *GradeRepository) Create(ctx context.Context, g *model.Grade) error {
	sections, err := json.Marshal(g.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO grades (attempt_id, assessment_id, learner_id, sections,
		     total_marks_awarded, max_marks, percentage, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (attempt_id) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		g.AttemptID, g.AssessmentID, g.LearnerID, sections,
		g.TotalMarksAwarded, g.MaxMarks, g.Percentage, g.Status,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
}

// GetByAttempt retrieves the grade for an attempt.
func (r *GradeRepository) GetByAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Grade, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+gradeColumns+` FROM grades WHERE attempt_id = $1`, attemptID)
	return scanGrade(row)
}

// ListByLearner retrieves all grades for a learner, newest first.
func (r *GradeRepository) ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]model.Grade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+gradeColumns+` FROM grades
		 WHERE learner_id = $1
		 ORDER BY created_at DESC`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grades []model.Grade
	for rows.Next() {
		g, err := scanGrade(rows)
		if err != nil {
			return nil, err
		}
		grades = append(grades, *g)
	}
	return grades, rows.Err()
}

// Update rewrites an existing grade through the explicit update path.
func (r *GradeRepository) Update(ctx context.Context, g *model.Grade) error {
	sections, err := json.Marshal(g.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE grades
		 SET sections = $1, total_marks_awarded = $2, max_marks = $3,
		     percentage = $4, status = $5, updated_at = NOW()
		 WHERE attempt_id = $6`,
		sections, g.TotalMarksAwarded, g.MaxMarks, g.Percentage, g.Status, g.AttemptID)
	return err
}
