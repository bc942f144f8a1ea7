package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduspark/eduspark-backend/internal/model"
)

// EnrollmentRepository handles course enrollment lookups.
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// IsEnrolled reports whether the learner is enrolled in the course.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, learnerID, courseID uuid.UUID) (bool, error) {
	var enrolled bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM enrollments WHERE learner_id = $1 AND course_id = $2
		 )`, learnerID, courseID).Scan(&enrolled)
	return enrolled, err
}

// Enroll links a learner to a course. Idempotent.
func (r *EnrollmentRepository) Enroll(ctx context.Context, learnerID, courseID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO enrollments (learner_id, course_id)
		 VALUES ($1, $2)
		 ON CONFLICT (learner_id, course_id) DO NOTHING`,
		learnerID, courseID)
	return err
}

// ListByLearner retrieves the learner's enrollments.
func (r *EnrollmentRepository) ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]model.Enrollment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, learner_id, course_id, enrolled_at
		 FROM enrollments
		 WHERE learner_id = $1
		 ORDER BY enrolled_at DESC`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []model.Enrollment
	for rows.Next() {
		var e model.Enrollment
		if err := rows.Scan(&e.ID, &e.LearnerID, &e.CourseID, &e.EnrolledAt); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}
