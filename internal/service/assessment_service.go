package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eduspark/eduspark-backend/internal/config"
	"github.com/eduspark/eduspark-backend/internal/model"
	"github.com/eduspark/eduspark-backend/internal/repository"
)

var (
	ErrNotAssessmentOwner = errors.New("not the owner of this assessment")
	ErrAlreadyPublished   = errors.New("assessment is already published")
	ErrNoCorrectOption    = errors.New("mcq question has no correct option")
)

// AssessmentService handles the authoring surface: create, publish, and the
// Redis-cached learner payload the attempt engine serves during attempts.
type AssessmentService struct {
	assessments *repository.AssessmentRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(assessments *repository.AssessmentRepository, rdb *redis.Client, log zerolog.Logger) *AssessmentService {
	return &AssessmentService{
		assessments: assessments,
		rdb:         rdb,
		log:         log.With().Str("component", "assessment_service").Logger(),
	}
}

// GetByID retrieves an assessment by its UUID, answer keys included. Caller
// decides whether the full definition may leave the server.
func (s *AssessmentService) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListByCourse retrieves a course's assessments, newest first.
func (s *AssessmentService) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.Assessment, error) {
	assessments, err := s.assessments.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	if assessments == nil {
		assessments = []model.Assessment{}
	}
	return assessments, nil
}

// Create builds and inserts a new unpublished assessment from the authoring
// request. Section and question IDs are minted here and never change.
func (s *AssessmentService) Create(ctx context.Context, req *model.CreateAssessmentRequest, createdBy uuid.UUID) (*model.Assessment, error) {
	a := &model.Assessment{
		CourseID:          req.CourseID,
		Kind:              req.Kind,
		Title:             req.Title,
		DurationMinutes:   req.DurationMinutes,
		StartsAt:          req.StartsAt,
		EndsAt:            req.EndsAt,
		PassingPercentage: req.PassingPercentage,
		MaxAttempts:       req.MaxAttempts,
		CreatedBy:         createdBy,
		Sections:          make([]model.AssessmentSection, 0, len(req.Sections)),
	}
	if a.Kind == model.AssessmentKindExam {
		a.MaxAttempts = 1
	} else if a.MaxAttempts < 1 {
		a.MaxAttempts = 1
	}

	for i := range req.Sections {
		sec := model.AssessmentSection{
			ID:        uuid.New(),
			Title:     req.Sections[i].Title,
			Questions: make([]model.Question, 0, len(req.Sections[i].Questions)),
		}
		for j := range req.Sections[i].Questions {
			qr := &req.Sections[i].Questions[j]
			q := model.Question{
				ID:            uuid.New(),
				Type:          qr.Type,
				Text:          qr.Text,
				Options:       qr.Options,
				PositiveMarks: qr.PositiveMarks,
				NegativeMarks: qr.NegativeMarks,
				Marks:         qr.Marks,
			}
			if q.Type == model.QuestionTypeMCQ {
				if len(q.Options) < 2 {
					return nil, fmt.Errorf("mcq question %q needs at least 2 options", q.Text)
				}
				if q.CorrectOption() < 0 {
					return nil, fmt.Errorf("%w: %q", ErrNoCorrectOption, q.Text)
				}
			}
			sec.Questions = append(sec.Questions, q)
		}
		a.Sections = append(a.Sections, sec)
	}
	a.TotalMarks = a.ComputeTotalMarks()

	if err := s.assessments.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create assessment: %w", err)
	}
	s.log.Info().
		Str("assessment_id", a.ID.String()).
		Str("kind", string(a.Kind)).
		Float64("total_marks", a.TotalMarks).
		Msg("Assessment created")
	return a, nil
}

// Publish freezes the total marks, flips the published flag and warms the
// learner payload cache so the first start never hits cold Redis.
func (s *AssessmentService) Publish(ctx context.Context, id, requestedBy uuid.UUID, isAdmin bool) (*model.Assessment, error) {
	a, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && a.CreatedBy != requestedBy {
		return nil, ErrNotAssessmentOwner
	}
	if a.IsPublished {
		return nil, ErrAlreadyPublished
	}

	a.TotalMarks = a.ComputeTotalMarks()
	if a.TotalMarks <= 0 {
		return nil, errors.New("assessment has no gradable questions")
	}

	if err := s.warmCache(ctx, a); err != nil {
		return nil, err
	}
	if err := s.assessments.Publish(ctx, a.ID, a.TotalMarks); err != nil {
		return nil, fmt.Errorf("publish assessment: %w", err)
	}
	a.IsPublished = true

	s.log.Info().Str("assessment_id", a.ID.String()).Msg("Assessment published")
	return a, nil
}

// GetPayload returns the learner-facing payload, preferring the Redis cache
// and self-healing from the store on a miss.
func (s *AssessmentService) GetPayload(ctx context.Context, id uuid.UUID) (*model.AssessmentPayload, error) {
	key := config.CacheKey.AssessmentPayloadKey(id.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var payload model.AssessmentPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			return &payload, nil
		}
		// Corrupt cache entry falls through to the store.
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Payload cache read failed")
	}

	a, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsPublished {
		return nil, ErrNotEligible
	}
	if err := s.warmCache(ctx, a); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Payload cache heal failed")
	}
	return a.DisplayPayload(), nil
}

// PrewarmAllCaches loads every published assessment's payload into Redis on
// startup so restarts never leave learners against a cold cache.
func (s *AssessmentService) PrewarmAllCaches(ctx context.Context) error {
	assessments, err := s.assessments.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published assessments: %w", err)
	}
	if len(assessments) == 0 {
		s.log.Info().Msg("No published assessments to prewarm")
		return nil
	}

	warmed := 0
	for i := range assessments {
		if err := s.warmCache(ctx, &assessments[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("assessment_id", assessments[i].ID.String()).
				Msg("Failed to warm assessment, skipping")
			continue
		}
		warmed++
	}
	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(assessments)).
		Msg("Prewarming complete")
	return nil
}

// warmCache writes the stripped payload and the duration into Redis in one
// pipeline. The answer key deliberately never enters the cache.
func (s *AssessmentService) warmCache(ctx context.Context, a *model.Assessment) error {
	payloadJSON, err := json.Marshal(a.DisplayPayload())
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AssessmentPayloadKey(a.ID.String()), payloadJSON, 0)
	pipe.Set(ctx, config.CacheKey.AssessmentDurationKey(a.ID.String()), a.DurationMinutes, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("assessment_id", a.ID.String()).
		Int("sections", len(a.Sections)).
		Msg("Cache warmed")
	return nil
}
