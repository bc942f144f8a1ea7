package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/eduspark/eduspark-backend/internal/grading"
	"github.com/eduspark/eduspark-backend/internal/model"
	"github.com/eduspark/eduspark-backend/internal/repository"
	"github.com/eduspark/eduspark-backend/internal/response"
)

// GradeStore is the persistence surface for grade records.
// Implemented by repository.GradeRepository.
type GradeStore interface {
	Create(ctx context.Context, g *model.Grade) error
	GetByAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Grade, error)
	ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]model.Grade, error)
	Update(ctx context.Context, g *model.Grade) error
}

// AttemptRoster lists an assessment's attempts for the grading queue.
// Implemented by repository.AttemptRepository.
type AttemptRoster interface {
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID, page, perPage int) ([]repository.AttemptResult, int, error)
}

// GradingService handles manual grading of subjective answers and the
// projection of finalized attempts into grade records.
type GradingService struct {
	attempts AttemptStore
	roster   AttemptRoster
	catalog  AssessmentCatalog
	grades   GradeStore
	log      zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(attempts AttemptStore, roster AttemptRoster, catalog AssessmentCatalog, grades GradeStore, log zerolog.Logger) *GradingService {
	return &GradingService{
		attempts: attempts,
		roster:   roster,
		catalog:  catalog,
		grades:   grades,
		log:      log.With().Str("component", "grading_service").Logger(),
	}
}

// GradeAttempt applies manual marks to subjective and file-upload answers of
// a finalized attempt. Only grading fields are writable; the learner's answer
// content is never touched. Once every answer is graded the attempt moves to
// graded and the grade record is projected, or re-projected when a grader
// revises marks on an already graded attempt.
func (s *GradingService) GradeAttempt(ctx context.Context, attemptID uuid.UUID, grader *model.User, req *model.GradeAttemptRequest) (*model.Attempt, *model.Grade, error) {
	at, a, err := s.loadForGrading(ctx, attemptID, grader)
	if err != nil {
		return nil, nil, err
	}
	if !at.Status.IsFinal() {
		return nil, nil, ErrAttemptNotFinal
	}

	for i := range req.Entries {
		entry := &req.Entries[i]
		q, ok := a.FindQuestion(entry.SectionID, entry.QuestionID)
		if !ok {
			return nil, nil, fmt.Errorf("question %s not in assessment: %w", entry.QuestionID, ErrAttemptNotFound)
		}
		if q.Type == model.QuestionTypeMCQ {
			// Objective answers are graded by the engine, not the grader.
			return nil, nil, fmt.Errorf("question %s is auto-graded: %w", entry.QuestionID, ErrForbidden)
		}
		if entry.MarksAwarded < 0 || entry.MarksAwarded > q.MaxMarks() {
			return nil, nil, fmt.Errorf("marks for question %s outside [0, %g]", entry.QuestionID, q.MaxMarks())
		}
		ans := at.FindAnswer(entry.SectionID, entry.QuestionID)
		if ans == nil {
			return nil, nil, fmt.Errorf("answer for question %s not found: %w", entry.QuestionID, ErrAttemptNotFound)
		}
		ans.MarksAwarded = entry.MarksAwarded
		ans.Feedback = entry.Feedback
		ans.IsGraded = true
	}

	grading.RefreshTotals(a, at)
	if at.IsGraded {
		at.Status = model.AttemptStatusGraded
	}

	if err := s.attempts.Update(ctx, at); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, nil, fmt.Errorf("attempt changed while grading, retry: %w", err)
		}
		return nil, nil, fmt.Errorf("save graded attempt: %w", err)
	}

	s.log.Info().
		Str("attempt_id", at.ID.String()).
		Str("grader_id", grader.ID.String()).
		Int("entries", len(req.Entries)).
		Bool("fully_graded", at.IsGraded).
		Msg("Manual grades applied")

	if !at.IsGraded {
		return at, nil, nil
	}

	grade, err := s.ProjectGrade(ctx, a, at)
	if err != nil && !errors.Is(err, ErrAlreadyGraded) {
		return nil, nil, err
	}
	if errors.Is(err, ErrAlreadyGraded) {
		// Revision of an already projected grade: recompute and update in
		// place so reports always reflect the latest marks.
		grade, err = s.reprojectGrade(ctx, a, at)
		if err != nil {
			return nil, nil, err
		}
	}
	return at, grade, nil
}

// ProjectGrade materializes the grade record for a fully graded attempt.
// Returns ErrAlreadyGraded when a grade already exists for the attempt.
func (s *GradingService) ProjectGrade(ctx context.Context, a *model.Assessment, at *model.Attempt) (*model.Grade, error) {
	if !at.IsGraded {
		return nil, ErrAttemptNotFinal
	}
	grade := grading.Project(a, at)
	if err := s.grades.Create(ctx, grade); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyGraded
		}
		return nil, fmt.Errorf("create grade: %w", err)
	}
	s.log.Info().
		Str("attempt_id", at.ID.String()).
		Float64("percentage", grade.Percentage).
		Str("status", string(grade.Status)).
		Msg("Grade projected")
	return grade, nil
}

// GetGradeForAttempt returns the grade for an attempt, visible to the
// attempt's learner and to graders of the assessment.
func (s *GradingService) GetGradeForAttempt(ctx context.Context, attemptID uuid.UUID, requester *model.User) (*model.Grade, error) {
	at, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if at.LearnerID != requester.ID && !requester.Role.CanGrade() {
		return nil, ErrForbidden
	}

	grade, err := s.grades.GetByAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGradeNotFound
		}
		return nil, fmt.Errorf("get grade: %w", err)
	}
	return grade, nil
}

// ListAttemptsForAssessment pages through an assessment's attempts for the
// grading queue. Admins see any assessment, tutors only their own.
func (s *GradingService) ListAttemptsForAssessment(ctx context.Context, assessmentID uuid.UUID, grader *model.User, page, perPage int) ([]repository.AttemptResult, *response.Pagination, error) {
	if !grader.Role.CanGrade() {
		return nil, nil, ErrForbidden
	}

	a, err := s.catalog.GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAssessmentNotFound
		}
		return nil, nil, fmt.Errorf("get assessment: %w", err)
	}
	if grader.Role != model.RoleAdmin && a.CreatedBy != grader.ID {
		return nil, nil, ErrForbidden
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	attempts, total, err := s.roster.ListByAssessment(ctx, assessmentID, page, perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list attempts: %w", err)
	}
	if attempts == nil {
		attempts = []repository.AttemptResult{}
	}

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}
	return attempts, pagination, nil
}

// ListGradesForLearner returns every grade belonging to the learner.
func (s *GradingService) ListGradesForLearner(ctx context.Context, learnerID uuid.UUID) ([]model.Grade, error) {
	grades, err := s.grades.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}

// loadForGrading fetches the attempt and its assessment, verifying the
// requester may grade it: admins grade anything, tutors only their own
// assessments.
func (s *GradingService) loadForGrading(ctx context.Context, attemptID uuid.UUID, grader *model.User) (*model.Attempt, *model.Assessment, error) {
	if !grader.Role.CanGrade() {
		return nil, nil, ErrForbidden
	}

	at, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}

	a, err := s.catalog.GetByID(ctx, at.AssessmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("get assessment: %w", err)
	}
	if grader.Role != model.RoleAdmin && a.CreatedBy != grader.ID {
		return nil, nil, ErrForbidden
	}
	return at, a, nil
}

// reprojectGrade rebuilds an existing grade record from the attempt's latest
// marks and persists the revision.
func (s *GradingService) reprojectGrade(ctx context.Context, a *model.Assessment, at *model.Attempt) (*model.Grade, error) {
	existing, err := s.grades.GetByAttempt(ctx, at.ID)
	if err != nil {
		return nil, fmt.Errorf("get grade for revision: %w", err)
	}
	fresh := grading.Project(a, at)
	fresh.ID = existing.ID
	fresh.CreatedAt = existing.CreatedAt
	if err := s.grades.Update(ctx, fresh); err != nil {
		return nil, fmt.Errorf("update grade: %w", err)
	}
	s.log.Info().
		Str("attempt_id", at.ID.String()).
		Float64("percentage", fresh.Percentage).
		Msg("Grade revised")
	return fresh, nil
}
