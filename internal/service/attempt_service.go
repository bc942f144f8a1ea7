package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eduspark/eduspark-backend/internal/config"
	"github.com/eduspark/eduspark-backend/internal/grading"
	"github.com/eduspark/eduspark-backend/internal/model"
	"github.com/eduspark/eduspark-backend/internal/repository"
	"github.com/eduspark/eduspark-backend/internal/timing"
)

// AttemptStore is the persistence surface the lifecycle controller needs.
// Implemented by repository.AttemptRepository.
type AttemptStore interface {
	Create(ctx context.Context, at *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetInProgress(ctx context.Context, assessmentID, learnerID uuid.UUID) (*model.Attempt, error)
	GetLatest(ctx context.Context, assessmentID, learnerID uuid.UUID) (*model.Attempt, error)
	CountByAssessmentAndLearner(ctx context.Context, assessmentID, learnerID uuid.UUID) (int, error)
	Update(ctx context.Context, at *model.Attempt) error
	ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]model.Attempt, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Attempt, error)
}

// AssessmentCatalog is the read-only catalog lookup.
type AssessmentCatalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
}

// EnrollmentChecker answers eligibility questions.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, learnerID, courseID uuid.UUID) (bool, error)
}

// GradeProjector materializes the grade record for a fully graded attempt.
// Implemented by GradingService.
type GradeProjector interface {
	ProjectGrade(ctx context.Context, a *model.Assessment, at *model.Attempt) (*model.Grade, error)
}

// HeartbeatPayload is the queue message consumed by the heartbeat worker.
type HeartbeatPayload struct {
	AttemptID string `json:"attempt_id"`
	Seconds   int    `json:"seconds"`
}

// AttemptService orchestrates the attempt lifecycle: start, save, submit,
// heartbeat, timeout and reads. Every operation that loads an in-progress
// attempt first reconciles it against the server clock, so an expired attempt
// is finalized before any mutation is considered.
type AttemptService struct {
	attempts    AttemptStore
	catalog     AssessmentCatalog
	enrollments EnrollmentChecker
	projector   GradeProjector
	rdb         *redis.Client
	log         zerolog.Logger
	now         func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts AttemptStore,
	catalog AssessmentCatalog,
	enrollments EnrollmentChecker,
	projector GradeProjector,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts:    attempts,
		catalog:     catalog,
		enrollments: enrollments,
		projector:   projector,
		rdb:         rdb,
		log:         log.With().Str("component", "attempt_service").Logger(),
		now:         time.Now,
	}
}

// Start begins or resumes an attempt. Exactly one in-progress attempt may
// exist per learner and assessment; a concurrent duplicate start resumes the
// winner's attempt instead of failing.
func (s *AttemptService) Start(ctx context.Context, assessmentID, learnerID uuid.UUID) (*model.Attempt, bool, error) {
	a, err := s.catalog.GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrAssessmentNotFound
		}
		return nil, false, fmt.Errorf("get assessment: %w", err)
	}

	now := s.now()
	if !a.IsPublished || !a.WithinWindow(now) {
		return nil, false, ErrNotEligible
	}

	eligible, err := s.enrollments.IsEnrolled(ctx, learnerID, a.CourseID)
	if err != nil {
		return nil, false, fmt.Errorf("check enrollment: %w", err)
	}
	if !eligible {
		return nil, false, ErrNotEligible
	}

	// Resume an in-progress attempt if one exists.
	existing, err := s.attempts.GetInProgress(ctx, assessmentID, learnerID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("check existing attempt: %w", err)
	}
	if existing != nil {
		reconciled, finalized, err := s.reconcile(ctx, a, existing)
		if err != nil {
			return nil, false, err
		}
		if finalized {
			return nil, false, &AlreadyCompletedError{AttemptID: reconciled.ID, Status: reconciled.Status, TimedOut: true}
		}
		s.cacheStartTime(ctx, reconciled)
		return reconciled, true, nil
	}

	// Enforce the attempt cap. Exams have MaxAttempts = 1; quizzes allow
	// numbered re-attempts up to the configured cap.
	count, err := s.attempts.CountByAssessmentAndLearner(ctx, assessmentID, learnerID)
	if err != nil {
		return nil, false, fmt.Errorf("count attempts: %w", err)
	}
	if count >= a.MaxAttempts {
		latest, err := s.attempts.GetLatest(ctx, assessmentID, learnerID)
		if err != nil {
			return nil, false, fmt.Errorf("get latest attempt: %w", err)
		}
		if a.MaxAttempts <= 1 {
			return nil, false, &AlreadyCompletedError{AttemptID: latest.ID, Status: latest.Status}
		}
		return nil, false, ErrAttemptCapReached
	}

	attempt := model.NewAttemptSkeleton(a, learnerID, count+1)
	if err := s.attempts.Create(ctx, attempt); err != nil {
		// A lost insert race surfaces two ways: ON CONFLICT DO NOTHING on the
		// attempt-number constraint (no row returned), or a raised unique
		// violation from the one-in-progress partial index when the winner
		// committed a different attempt number. Both mean resume the winner.
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			winner, fetchErr := s.attempts.GetInProgress(ctx, assessmentID, learnerID)
			if fetchErr != nil {
				return nil, false, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			s.cacheStartTime(ctx, winner)
			return winner, true, nil
		}
		return nil, false, fmt.Errorf("create attempt: %w", err)
	}

	s.cacheStartTime(ctx, attempt)
	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("assessment_id", assessmentID.String()).
		Str("learner_id", learnerID.String()).
		Int("attempt_number", attempt.AttemptNumber).
		Msg("Attempt started")
	return attempt, false, nil
}

// Save merges partial answers into the attempt. Only fields present in each
// patch are written; unknown question IDs are ignored, never errors. The
// client-reported countdown is stored purely as a cache.
func (s *AttemptService) Save(ctx context.Context, attemptID, learnerID uuid.UUID, req *model.SaveAnswersRequest) (*model.Attempt, error) {
	at, a, err := s.loadOwned(ctx, attemptID, learnerID)
	if err != nil {
		return nil, err
	}
	if at.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptFinalized
	}

	s.mergePatches(at, req.Answers)
	if req.TimeRemaining != nil && *req.TimeRemaining < at.TimeRemaining {
		at.TimeRemaining = *req.TimeRemaining
	}
	grading.RefreshTotals(a, at)

	if err := s.attempts.Update(ctx, at); err != nil {
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("save attempt: %w", err)
		}
		// Lost a concurrent save or a finalization race. Reload and
		// re-apply once; a finalized attempt rejects the save.
		at, err = s.attempts.GetByID(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("reload attempt: %w", err)
		}
		if at.Status != model.AttemptStatusInProgress {
			return nil, ErrAttemptFinalized
		}
		s.mergePatches(at, req.Answers)
		grading.RefreshTotals(a, at)
		if err := s.attempts.Update(ctx, at); err != nil {
			return nil, fmt.Errorf("save attempt after retry: %w", err)
		}
	}

	s.cacheAnswers(ctx, at, req.Answers)
	return at, nil
}

// Submit finalizes the attempt and runs the auto-grader. Idempotent: a
// duplicate submit returns the stored result without re-grading.
func (s *AttemptService) Submit(ctx context.Context, attemptID, learnerID uuid.UUID) (*model.Attempt, error) {
	at, a, err := s.loadOwned(ctx, attemptID, learnerID)
	if err != nil {
		return nil, err
	}
	if at.Status.IsFinal() {
		return at, nil
	}
	return s.finalize(ctx, a, at, model.AttemptStatusSubmitted)
}

// Heartbeat records the client-reported countdown. The value is clamped to
// the authoritative remaining time, queued for batched persistence, and the
// authoritative value is returned for display sync. A frame with no client
// value is a pure clock read and enqueues nothing. A heartbeat on an expired
// attempt finalizes it.
func (s *AttemptService) Heartbeat(ctx context.Context, attemptID, learnerID uuid.UUID, clientRemaining *int) (int, error) {
	at, a, err := s.loadOwned(ctx, attemptID, learnerID)
	if err != nil {
		return 0, err
	}
	if at.Status != model.AttemptStatusInProgress {
		return 0, ErrAttemptFinalized
	}

	authoritative := timing.Remaining(at.StartedAt, a.DurationMinutes, s.now())
	if clientRemaining == nil {
		return authoritative, nil
	}
	accepted := *clientRemaining
	if accepted > authoritative {
		accepted = authoritative
	}

	payload, _ := json.Marshal(HeartbeatPayload{AttemptID: at.ID.String(), Seconds: accepted})
	if err := s.rdb.LPush(ctx, config.WorkerKey.PersistHeartbeatsQueue, payload).Err(); err != nil {
		// Queue unavailable: the countdown cache is advisory, keep serving.
		s.log.Warn().Err(err).Str("attempt_id", at.ID.String()).Msg("Heartbeat enqueue failed")
	}
	return authoritative, nil
}

// AttachFile records an uploaded file reference on a file-upload answer.
// The binary itself is stored by the media service; only path and name land
// on the attempt.
func (s *AttemptService) AttachFile(ctx context.Context, attemptID, learnerID, sectionID, questionID uuid.UUID, filePath, fileName string) (*model.Attempt, error) {
	at, a, err := s.loadOwned(ctx, attemptID, learnerID)
	if err != nil {
		return nil, err
	}
	if at.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptFinalized
	}

	q, ok := a.FindQuestion(sectionID, questionID)
	if !ok {
		return nil, ErrAttemptNotFound
	}
	if q.Type != model.QuestionTypeFileUpload {
		return nil, fmt.Errorf("question %s: %w", questionID, ErrNotFileQuestion)
	}

	ans := at.FindAnswer(sectionID, questionID)
	if ans == nil {
		return nil, ErrAttemptNotFound
	}
	ans.FilePath = filePath
	ans.FileName = fileName

	if err := s.attempts.Update(ctx, at); err != nil {
		return nil, fmt.Errorf("attach file: %w", err)
	}
	return at, nil
}

// GetAttempt loads an attempt for its owner, reconciling expiry first so a
// stale in-progress attempt is observed as timed out, never in progress.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID, learnerID uuid.UUID) (*model.Attempt, *model.Assessment, error) {
	at, a, err := s.loadOwned(ctx, attemptID, learnerID)
	if err != nil {
		return nil, nil, err
	}
	return at, a, nil
}

// GetForGrading loads an attempt with its full assessment (answer keys
// included) for the grading screen. Admins read any attempt, tutors only
// attempts of assessments they authored.
func (s *AttemptService) GetForGrading(ctx context.Context, attemptID uuid.UUID, grader *model.User) (*model.Attempt, *model.Assessment, error) {
	if grader == nil || !grader.Role.CanGrade() {
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
	if _, _, err := s.reconcile(ctx, a, at); err != nil {
		return nil, nil, err
	}
	return at, a, nil
}

// GetMyAttempts lists the learner's attempts, reconciling any stale
// in-progress entries along the way.
func (s *AttemptService) GetMyAttempts(ctx context.Context, learnerID uuid.UUID) ([]model.Attempt, error) {
	attempts, err := s.attempts.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	for i := range attempts {
		if attempts[i].Status != model.AttemptStatusInProgress {
			continue
		}
		a, err := s.catalog.GetByID(ctx, attempts[i].AssessmentID)
		if err != nil {
			continue
		}
		reconciled, _, err := s.reconcile(ctx, a, &attempts[i])
		if err != nil {
			continue
		}
		attempts[i] = *reconciled
	}
	return attempts, nil
}

// FinalizeExpired sweeps abandoned attempts past their deadline, finalizing
// up to limit of them. Returns how many were finalized.
func (s *AttemptService) FinalizeExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.attempts.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	finalized := 0
	for i := range expired {
		a, err := s.catalog.GetByID(ctx, expired[i].AssessmentID)
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", expired[i].ID.String()).Msg("Sweep: assessment lookup failed")
			continue
		}
		if _, err := s.finalize(ctx, a, &expired[i], model.AttemptStatusTimedOut); err != nil {
			s.log.Error().Err(err).Str("attempt_id", expired[i].ID.String()).Msg("Sweep: finalize failed")
			continue
		}
		finalized++
	}
	return finalized, nil
}

// Remaining computes the authoritative remaining seconds for an attempt,
// preferring the Redis-cached start time and self-healing from the store.
func (s *AttemptService) Remaining(ctx context.Context, at *model.Attempt, a *model.Assessment) int {
	startKey := config.CacheKey.AttemptStartKey(at.ID.String())

	startedAt := at.StartedAt
	if val, err := s.rdb.Get(ctx, startKey).Int64(); err == nil {
		startedAt = time.Unix(val, 0)
	} else if errors.Is(err, redis.Nil) {
		// Cache miss: repopulate so the next read is cheap.
		_ = s.rdb.Set(ctx, startKey, at.StartedAt.Unix(), 0).Err()
	}

	return timing.Remaining(startedAt, a.DurationMinutes, s.now())
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

// isUniqueViolation reports whether err is a Postgres 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// loadOwned fetches an attempt, verifies ownership, and reconciles expiry.
func (s *AttemptService) loadOwned(ctx context.Context, attemptID, learnerID uuid.UUID) (*model.Attempt, *model.Assessment, error) {
	at, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	if at.LearnerID != learnerID {
		return nil, nil, ErrForbidden
	}

	a, err := s.catalog.GetByID(ctx, at.AssessmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("get assessment: %w", err)
	}

	at, _, err = s.reconcile(ctx, a, at)
	if err != nil {
		return nil, nil, err
	}
	return at, a, nil
}

// reconcile recomputes the authoritative clock for an in-progress attempt and
// finalizes it as timed out when the deadline has passed. The second return
// reports whether this call performed the finalization.
func (s *AttemptService) reconcile(ctx context.Context, a *model.Assessment, at *model.Attempt) (*model.Attempt, bool, error) {
	if at.Status != model.AttemptStatusInProgress {
		return at, false, nil
	}

	now := s.now()
	if !timing.Expired(at.StartedAt, a.DurationMinutes, now) {
		at.TimeRemaining = timing.Remaining(at.StartedAt, a.DurationMinutes, now)
		return at, false, nil
	}

	finalized, err := s.finalize(ctx, a, at, model.AttemptStatusTimedOut)
	if err != nil {
		return nil, false, err
	}
	return finalized, true, nil
}

// finalize runs the auto-grader and moves the attempt to a terminal status.
// An optimistic-lock conflict means another request finalized first; the
// stored result wins and is returned unchanged.
func (s *AttemptService) finalize(ctx context.Context, a *model.Assessment, at *model.Attempt, status model.AttemptStatus) (*model.Attempt, error) {
	grading.Apply(a, at)
	at.Status = status
	submittedAt := s.now()
	at.SubmittedAt = &submittedAt
	at.TimeRemaining = 0
	if at.IsGraded {
		at.Status = model.AttemptStatusGraded
	}

	if err := s.attempts.Update(ctx, at); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			stored, fetchErr := s.attempts.GetByID(ctx, at.ID)
			if fetchErr != nil {
				return nil, fmt.Errorf("reload after finalize race: %w", fetchErr)
			}
			if stored.Status.IsFinal() {
				return stored, nil
			}
			// The conflicting write was a save that slipped in; grade
			// the fresher answers and finalize those.
			grading.Apply(a, stored)
			stored.Status = status
			stored.SubmittedAt = &submittedAt
			stored.TimeRemaining = 0
			if stored.IsGraded {
				stored.Status = model.AttemptStatusGraded
			}
			if err := s.attempts.Update(ctx, stored); err != nil {
				return nil, fmt.Errorf("finalize after retry: %w", err)
			}
			at = stored
		} else {
			return nil, fmt.Errorf("finalize attempt: %w", err)
		}
	}

	s.clearAttemptCache(ctx, at)
	s.log.Info().
		Str("attempt_id", at.ID.String()).
		Str("status", string(at.Status)).
		Float64("total_marks", at.TotalMarksAwarded).
		Msg("Attempt finalized")

	// All-objective assessments are fully graded at this point; project the
	// grade immediately. Projection failures never undo the submission.
	if at.IsGraded && s.projector != nil {
		if _, err := s.projector.ProjectGrade(ctx, a, at); err != nil && !errors.Is(err, ErrAlreadyGraded) {
			s.log.Error().Err(err).Str("attempt_id", at.ID.String()).Msg("Grade projection failed")
		}
	}
	return at, nil
}

// mergePatches applies per-field last-write-wins merges into matching answer
// slots. Patches addressing unknown questions are dropped silently.
func (s *AttemptService) mergePatches(at *model.Attempt, patches []model.AnswerPatch) {
	for i := range patches {
		p := &patches[i]
		ans := at.FindAnswer(p.SectionID, p.QuestionID)
		if ans == nil {
			continue
		}
		if p.SelectedOption != nil {
			selected := *p.SelectedOption
			ans.SelectedOption = &selected
		}
		if p.AnswerText != nil {
			ans.AnswerText = *p.AnswerText
		}
	}
}

// cacheStartTime mirrors the immutable start time into Redis so timer reads
// skip the store. Failures are non-fatal; reads fall back to the row.
func (s *AttemptService) cacheStartTime(ctx context.Context, at *model.Attempt) {
	key := config.CacheKey.AttemptStartKey(at.ID.String())
	if err := s.rdb.Set(ctx, key, at.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", at.ID.String()).Msg("Failed to cache start time")
	}
}

// cacheAnswers mirrors merged patches into the per-attempt answer hash used
// by the websocket stream and session resume.
func (s *AttemptService) cacheAnswers(ctx context.Context, at *model.Attempt, patches []model.AnswerPatch) {
	if len(patches) == 0 {
		return
	}
	key := config.CacheKey.AttemptAnswersKey(at.ID.String())
	fields := make(map[string]interface{}, len(patches))
	for i := range patches {
		raw, err := json.Marshal(patches[i])
		if err != nil {
			continue
		}
		fields[patches[i].QuestionID.String()] = raw
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", at.ID.String()).Msg("Failed to cache answers")
	}
}

// clearAttemptCache removes the hot keys of a finalized attempt.
func (s *AttemptService) clearAttemptCache(ctx context.Context, at *model.Attempt) {
	_ = s.rdb.Del(ctx,
		config.CacheKey.AttemptStartKey(at.ID.String()),
		config.CacheKey.AttemptAnswersKey(at.ID.String()),
	).Err()
}
