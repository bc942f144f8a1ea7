package service

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eduspark/eduspark-backend/internal/config"
	"github.com/eduspark/eduspark-backend/internal/model"
	"github.com/eduspark/eduspark-backend/internal/repository"
)

// ────────────────────────────────────────────────────────────────────────────
// In-memory fakes
// ────────────────────────────────────────────────────────────────────────────

func cloneAttempt(at *model.Attempt) *model.Attempt {
	cp := *at
	cp.Sections = make([]model.AttemptSection, len(at.Sections))
	for i := range at.Sections {
		sec := model.AttemptSection{
			SectionID: at.Sections[i].SectionID,
			Answers:   make([]model.Answer, len(at.Sections[i].Answers)),
		}
		copy(sec.Answers, at.Sections[i].Answers)
		for j := range sec.Answers {
			if sel := at.Sections[i].Answers[j].SelectedOption; sel != nil {
				v := *sel
				sec.Answers[j].SelectedOption = &v
			}
		}
		cp.Sections[i] = sec
	}
	if at.SubmittedAt != nil {
		v := *at.SubmittedAt
		cp.SubmittedAt = &v
	}
	return &cp
}

// fakeAttemptStore mimics the attempt table: optimistic locking on Version,
// the one-in-progress partial unique constraint, and the expiry listing.
type fakeAttemptStore struct {
	rows map[uuid.UUID]*model.Attempt
	// assessmentID -> duration minutes, for ListExpired
	durations map[uuid.UUID]int
	now       func() time.Time
	// beforeCreate runs just before the insert-race check, letting tests
	// slip a concurrent winner in.
	beforeCreate func()
	// failUpdates forces the next N updates to report a version conflict.
	failUpdates int
}

func newFakeAttemptStore(now func() time.Time) *fakeAttemptStore {
	return &fakeAttemptStore{
		rows:      make(map[uuid.UUID]*model.Attempt),
		durations: make(map[uuid.UUID]int),
		now:       now,
	}
}

func (f *fakeAttemptStore) put(at *model.Attempt) {
	f.rows[at.ID] = cloneAttempt(at)
}

func (f *fakeAttemptStore) Create(_ context.Context, at *model.Attempt) error {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	for _, row := range f.rows {
		if row.AssessmentID == at.AssessmentID && row.LearnerID == at.LearnerID && row.Status == model.AttemptStatusInProgress {
			// Same attempt number hits the ON CONFLICT target (no row
			// returned); a different number trips the one-in-progress
			// partial index, which raises instead.
			if row.AttemptNumber == at.AttemptNumber {
				return pgx.ErrNoRows
			}
			return &pgconn.PgError{Code: "23505", ConstraintName: "idx_attempts_one_active"}
		}
	}
	at.ID = uuid.New()
	at.StartedAt = f.now()
	at.Version = 1
	at.CreatedAt = f.now()
	at.UpdatedAt = f.now()
	f.put(at)
	return nil
}

func (f *fakeAttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneAttempt(row), nil
}

func (f *fakeAttemptStore) GetInProgress(_ context.Context, assessmentID, learnerID uuid.UUID) (*model.Attempt, error) {
	for _, row := range f.rows {
		if row.AssessmentID == assessmentID && row.LearnerID == learnerID && row.Status == model.AttemptStatusInProgress {
			return cloneAttempt(row), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeAttemptStore) GetLatest(_ context.Context, assessmentID, learnerID uuid.UUID) (*model.Attempt, error) {
	var latest *model.Attempt
	for _, row := range f.rows {
		if row.AssessmentID != assessmentID || row.LearnerID != learnerID {
			continue
		}
		if latest == nil || row.AttemptNumber > latest.AttemptNumber {
			latest = row
		}
	}
	if latest == nil {
		return nil, pgx.ErrNoRows
	}
	return cloneAttempt(latest), nil
}

func (f *fakeAttemptStore) CountByAssessmentAndLearner(_ context.Context, assessmentID, learnerID uuid.UUID) (int, error) {
	count := 0
	for _, row := range f.rows {
		if row.AssessmentID == assessmentID && row.LearnerID == learnerID {
			count++
		}
	}
	return count, nil
}

func (f *fakeAttemptStore) Update(_ context.Context, at *model.Attempt) error {
	row, ok := f.rows[at.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if f.failUpdates > 0 {
		f.failUpdates--
		return repository.ErrVersionConflict
	}
	if row.Version != at.Version {
		return repository.ErrVersionConflict
	}
	at.Version++
	at.UpdatedAt = f.now()
	f.put(at)
	return nil
}

func (f *fakeAttemptStore) ListByLearner(_ context.Context, learnerID uuid.UUID) ([]model.Attempt, error) {
	var out []model.Attempt
	for _, row := range f.rows {
		if row.LearnerID == learnerID {
			out = append(out, *cloneAttempt(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (f *fakeAttemptStore) ListExpired(_ context.Context, now time.Time, limit int) ([]model.Attempt, error) {
	var out []model.Attempt
	for _, row := range f.rows {
		if row.Status != model.AttemptStatusInProgress {
			continue
		}
		dur := f.durations[row.AssessmentID]
		if !row.StartedAt.Add(time.Duration(dur) * time.Minute).After(now) {
			out = append(out, *cloneAttempt(row))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeCatalog struct {
	assessments map[uuid.UUID]*model.Assessment
}

func (f *fakeCatalog) GetByID(_ context.Context, id uuid.UUID) (*model.Assessment, error) {
	a, ok := f.assessments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return a, nil
}

type fakeEnrollments struct {
	enrolled map[uuid.UUID]bool // learnerID -> enrolled
}

func (f *fakeEnrollments) IsEnrolled(_ context.Context, learnerID, _ uuid.UUID) (bool, error) {
	return f.enrolled[learnerID], nil
}

// fakeProjector behaves like the grade table's unique constraint: the first
// projection per attempt succeeds, repeats report ErrAlreadyGraded.
type fakeProjector struct {
	calls     int
	projected map[uuid.UUID]*model.Grade
}

func (f *fakeProjector) ProjectGrade(_ context.Context, a *model.Assessment, at *model.Attempt) (*model.Grade, error) {
	f.calls++
	if f.projected == nil {
		f.projected = make(map[uuid.UUID]*model.Grade)
	}
	if _, ok := f.projected[at.ID]; ok {
		return nil, ErrAlreadyGraded
	}
	g := &model.Grade{ID: uuid.New(), AttemptID: at.ID, AssessmentID: a.ID, LearnerID: at.LearnerID}
	f.projected[at.ID] = g
	return g, nil
}

// ────────────────────────────────────────────────────────────────────────────
// Fixtures
// ────────────────────────────────────────────────────────────────────────────

type attemptEnv struct {
	svc         *AttemptService
	store       *fakeAttemptStore
	catalog     *fakeCatalog
	enrollments *fakeEnrollments
	projector   *fakeProjector
	mr          *miniredis.Miniredis
	clock       time.Time
	learnerID   uuid.UUID
}

func (e *attemptEnv) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
}

func newAttemptEnv(t *testing.T) *attemptEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	env := &attemptEnv{
		catalog:     &fakeCatalog{assessments: make(map[uuid.UUID]*model.Assessment)},
		enrollments: &fakeEnrollments{enrolled: make(map[uuid.UUID]bool)},
		projector:   &fakeProjector{},
		mr:          mr,
		clock:       time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		learnerID:   uuid.New(),
	}
	now := func() time.Time { return env.clock }
	env.store = newFakeAttemptStore(now)
	env.enrollments.enrolled[env.learnerID] = true

	env.svc = NewAttemptService(env.store, env.catalog, env.enrollments, env.projector, rdb, zerolog.Nop())
	env.svc.now = now
	return env
}

// addAssessment registers a published mixed exam: one 10-mark MCQ (correct
// option 1) and one 10-mark subjective question.
func (e *attemptEnv) addAssessment(kind model.AssessmentKind, maxAttempts int, questions ...model.Question) *model.Assessment {
	if len(questions) == 0 {
		questions = []model.Question{
			{
				ID:   uuid.New(),
				Type: model.QuestionTypeMCQ,
				Text: "pick one",
				Options: []model.Option{
					{Text: "wrong"},
					{Text: "right", IsCorrect: true},
					{Text: "wrong"},
				},
				PositiveMarks: 10,
			},
			{ID: uuid.New(), Type: model.QuestionTypeSubjective, Text: "explain", Marks: 10},
		}
	}
	a := &model.Assessment{
		ID:              uuid.New(),
		CourseID:        uuid.New(),
		Kind:            kind,
		Title:           "Midterm",
		Sections:        []model.AssessmentSection{{ID: uuid.New(), Title: "Main", Questions: questions}},
		DurationMinutes: 30,
		IsPublished:     true,
		MaxAttempts:     maxAttempts,
		CreatedBy:       uuid.New(),
	}
	a.TotalMarks = a.ComputeTotalMarks()
	e.catalog.assessments[a.ID] = a
	e.store.durations[a.ID] = a.DurationMinutes
	return a
}

func selection(n int) *int { return &n }
func text(s string) *string { return &s }

// ────────────────────────────────────────────────────────────────────────────
// Start
// ────────────────────────────────────────────────────────────────────────────

func TestStartCreatesSkeleton(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)

	at, resumed, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.NoError(t, err)
	require.False(t, resumed)
	require.Equal(t, model.AttemptStatusInProgress, at.Status)
	require.Equal(t, 1, at.AttemptNumber)
	require.Equal(t, 30*60, at.TimeRemaining)
	require.Len(t, at.Sections, 1)
	require.Len(t, at.Sections[0].Answers, 2)

	// Start time mirrored into redis for cheap timer reads.
	require.True(t, env.mr.Exists(config.CacheKey.AttemptStartKey(at.ID.String())))
}

func TestStartResumesInProgress(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)

	first, _, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.NoError(t, err)

	env.advance(5 * time.Minute)
	second, resumed, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 25*60, second.TimeRemaining)
}

func TestStartUnpublishedOrUnenrolledNotEligible(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	a.IsPublished = false

	_, _, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.ErrorIs(t, err, ErrNotEligible)

	a.IsPublished = true
	stranger := uuid.New()
	_, _, err = env.svc.Start(context.Background(), a.ID, stranger)
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestStartOutsideWindowNotEligible(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	ends := env.clock.Add(-time.Hour)
	a.EndsAt = &ends

	_, _, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestStartExamAlreadyCompleted(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)

	at, _, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.NoError(t, err)
	_, err = env.svc.Submit(context.Background(), at.ID, env.learnerID)
	require.NoError(t, err)

	_, _, err = env.svc.Start(context.Background(), a.ID, env.learnerID)
	var completed *AlreadyCompletedError
	require.ErrorAs(t, err, &completed)
	require.Equal(t, at.ID, completed.AttemptID)
	require.False(t, completed.TimedOut)
}

func TestStartQuizCapReached(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindQuiz, 2)

	for i := 0; i < 2; i++ {
		at, _, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
		require.NoError(t, err)
		require.Equal(t, i+1, at.AttemptNumber)
		_, err = env.svc.Submit(context.Background(), at.ID, env.learnerID)
		require.NoError(t, err)
	}

	_, _, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.ErrorIs(t, err, ErrAttemptCapReached)
}

func TestStartExpiredAttemptFinalizesAsTimedOut(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)

	at, _, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.NoError(t, err)

	env.advance(31 * time.Minute)
	_, _, err = env.svc.Start(context.Background(), a.ID, env.learnerID)
	var completed *AlreadyCompletedError
	require.ErrorAs(t, err, &completed)
	require.True(t, completed.TimedOut)

	stored, err := env.store.GetByID(context.Background(), at.ID)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusTimedOut, stored.Status)
	require.Equal(t, 0, stored.TimeRemaining)
	require.NotNil(t, stored.SubmittedAt)
}

func TestStartConcurrentDuplicateResumesWinner(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)

	// The winner's insert lands between the in-progress check and our own
	// insert, so the unique constraint rejects ours.
	winner := model.NewAttemptSkeleton(a, env.learnerID, 1)
	winner.ID = uuid.New()
	winner.StartedAt = env.clock
	winner.Version = 1
	env.store.beforeCreate = func() { env.store.put(winner) }

	at, resumed, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, winner.ID, at.ID)
}

func TestStartCrossNumberRaceResumesWinner(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindQuiz, 5)

	// The winner read a fresher attempt count and committed under a higher
	// number, so the loser's insert trips the one-in-progress index rather
	// than the attempt-number constraint.
	winner := model.NewAttemptSkeleton(a, env.learnerID, 2)
	winner.ID = uuid.New()
	winner.StartedAt = env.clock
	winner.Version = 1
	env.store.beforeCreate = func() { env.store.put(winner) }

	at, resumed, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, winner.ID, at.ID)
}

// ────────────────────────────────────────────────────────────────────────────
// Save
// ────────────────────────────────────────────────────────────────────────────

func startAttempt(t *testing.T, env *attemptEnv, a *model.Assessment) *model.Attempt {
	t.Helper()
	at, _, err := env.svc.Start(context.Background(), a.ID, env.learnerID)
	require.NoError(t, err)
	return at
}

func TestSaveMergesPatches(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	sec := a.Sections[0]
	saved, err := env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: sec.ID, QuestionID: sec.Questions[0].ID, SelectedOption: selection(1)},
			{SectionID: sec.ID, QuestionID: sec.Questions[1].ID, AnswerText: text("draft one")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, *saved.Sections[0].Answers[0].SelectedOption)
	require.Equal(t, "draft one", saved.Sections[0].Answers[1].AnswerText)
	require.Equal(t, saved.SumMarks(), saved.TotalMarksAwarded)

	// A later partial save touches only the fields it carries.
	saved, err = env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: sec.ID, QuestionID: sec.Questions[1].ID, AnswerText: text("draft two")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, *saved.Sections[0].Answers[0].SelectedOption)
	require.Equal(t, "draft two", saved.Sections[0].Answers[1].AnswerText)
}

func TestSaveDropsUnknownQuestions(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	saved, err := env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: a.Sections[0].ID, QuestionID: uuid.New(), AnswerText: text("lost")},
		},
	})
	require.NoError(t, err)
	for _, ans := range saved.Sections[0].Answers {
		require.Empty(t, ans.AnswerText)
	}
}

func TestSaveCountdownClampedToAuthoritative(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	env.advance(10 * time.Minute)

	// A client claiming more time than the server clock allows is ignored.
	higher := 25 * 60
	saved, err := env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{TimeRemaining: &higher})
	require.NoError(t, err)
	require.Equal(t, 20*60, saved.TimeRemaining)

	lower := 15 * 60
	saved, err = env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{TimeRemaining: &lower})
	require.NoError(t, err)
	require.Equal(t, lower, saved.TimeRemaining)
}

func TestSaveRejectedOnceFinalized(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	_, err := env.svc.Submit(context.Background(), at.ID, env.learnerID)
	require.NoError(t, err)

	_, err = env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: a.Sections[0].ID, QuestionID: a.Sections[0].Questions[1].ID, AnswerText: text("too late")},
		},
	})
	require.ErrorIs(t, err, ErrAttemptFinalized)
}

func TestSaveAfterExpiryFinalizesFirst(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	sec := a.Sections[0]
	_, err := env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: sec.ID, QuestionID: sec.Questions[0].ID, SelectedOption: selection(1)},
		},
	})
	require.NoError(t, err)

	env.advance(31 * time.Minute)
	_, err = env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: sec.ID, QuestionID: sec.Questions[1].ID, AnswerText: text("too late")},
		},
	})
	require.ErrorIs(t, err, ErrAttemptFinalized)

	// The pre-deadline MCQ answer was kept and auto-graded.
	stored, err := env.store.GetByID(context.Background(), at.ID)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusTimedOut, stored.Status)
	require.Equal(t, 10.0, stored.TotalMarksAwarded)
	require.Empty(t, stored.Sections[0].Answers[1].AnswerText)
}

func TestSaveRetriesAfterVersionConflict(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	env.store.failUpdates = 1
	sec := a.Sections[0]
	saved, err := env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: sec.ID, QuestionID: sec.Questions[1].ID, AnswerText: text("persisted")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "persisted", saved.Sections[0].Answers[1].AnswerText)
}

// ────────────────────────────────────────────────────────────────────────────
// Submit
// ────────────────────────────────────────────────────────────────────────────

func TestSubmitGradesObjectiveAndStaysIdempotent(t *testing.T) {
	env := newAttemptEnv(t)
	mcqOnly := model.Question{
		ID:   uuid.New(),
		Type: model.QuestionTypeMCQ,
		Text: "pick",
		Options: []model.Option{
			{Text: "no"}, {Text: "yes", IsCorrect: true},
		},
		PositiveMarks: 10,
	}
	a := env.addAssessment(model.AssessmentKindExam, 1, mcqOnly)
	at := startAttempt(t, env, a)

	_, err := env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: a.Sections[0].ID, QuestionID: mcqOnly.ID, SelectedOption: selection(1)},
		},
	})
	require.NoError(t, err)

	first, err := env.svc.Submit(context.Background(), at.ID, env.learnerID)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusGraded, first.Status)
	require.True(t, first.IsGraded)
	require.Equal(t, 10.0, first.TotalMarksAwarded)
	require.Equal(t, 100.0, first.Percentage)
	require.Equal(t, 1, env.projector.calls)

	// Duplicate submit returns the stored result without re-grading.
	second, err := env.svc.Submit(context.Background(), at.ID, env.learnerID)
	require.NoError(t, err)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.TotalMarksAwarded, second.TotalMarksAwarded)
	require.Equal(t, 1, env.projector.calls)
}

func TestSubmitMixedStaysSubmittedUntilManualGrading(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	sec := a.Sections[0]
	_, err := env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: sec.ID, QuestionID: sec.Questions[0].ID, SelectedOption: selection(1)},
			{SectionID: sec.ID, QuestionID: sec.Questions[1].ID, AnswerText: text("essay")},
		},
	})
	require.NoError(t, err)

	got, err := env.svc.Submit(context.Background(), at.ID, env.learnerID)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusSubmitted, got.Status)
	require.False(t, got.IsGraded)
	require.Equal(t, 10.0, got.TotalMarksAwarded)
	require.Equal(t, 0, env.projector.calls)
}

func TestSubmitByStrangerForbidden(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	_, err := env.svc.Submit(context.Background(), at.ID, uuid.New())
	require.ErrorIs(t, err, ErrForbidden)
}

func TestNegativeMarkingOnSubmit(t *testing.T) {
	env := newAttemptEnv(t)
	penalized := model.Question{
		ID:   uuid.New(),
		Type: model.QuestionTypeMCQ,
		Text: "tricky",
		Options: []model.Option{
			{Text: "yes", IsCorrect: true}, {Text: "no"},
		},
		PositiveMarks: 4,
		NegativeMarks: 1,
	}
	a := env.addAssessment(model.AssessmentKindExam, 1, penalized)
	at := startAttempt(t, env, a)

	_, err := env.svc.Save(context.Background(), at.ID, env.learnerID, &model.SaveAnswersRequest{
		Answers: []model.AnswerPatch{
			{SectionID: a.Sections[0].ID, QuestionID: penalized.ID, SelectedOption: selection(1)},
		},
	})
	require.NoError(t, err)

	got, err := env.svc.Submit(context.Background(), at.ID, env.learnerID)
	require.NoError(t, err)
	require.Equal(t, -1.0, got.TotalMarksAwarded)
	require.Equal(t, 0.0, got.Percentage)
}

// ────────────────────────────────────────────────────────────────────────────
// Heartbeat
// ────────────────────────────────────────────────────────────────────────────

func TestHeartbeatClampsToAuthoritativeClock(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	env.advance(10 * time.Minute)

	// Client claims more time than the server clock allows.
	remaining, err := env.svc.Heartbeat(context.Background(), at.ID, env.learnerID, selection(29*60))
	require.NoError(t, err)
	require.Equal(t, 20*60, remaining)

	raw, err := env.mr.Lpop(config.WorkerKey.PersistHeartbeatsQueue)
	require.NoError(t, err)
	var payload HeartbeatPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	require.Equal(t, at.ID.String(), payload.AttemptID)
	require.Equal(t, 20*60, payload.Seconds)
}

func TestHeartbeatAcceptsLowerClientValue(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	env.advance(5 * time.Minute)

	remaining, err := env.svc.Heartbeat(context.Background(), at.ID, env.learnerID, selection(10*60))
	require.NoError(t, err)
	require.Equal(t, 25*60, remaining)

	raw, err := env.mr.Lpop(config.WorkerKey.PersistHeartbeatsQueue)
	require.NoError(t, err)
	var payload HeartbeatPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	require.Equal(t, 10*60, payload.Seconds)
}

func TestHeartbeatWithoutClientValueSkipsQueue(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	env.advance(5 * time.Minute)

	// A bare clock read must not enqueue a zero countdown.
	remaining, err := env.svc.Heartbeat(context.Background(), at.ID, env.learnerID, nil)
	require.NoError(t, err)
	require.Equal(t, 25*60, remaining)
	require.False(t, env.mr.Exists(config.WorkerKey.PersistHeartbeatsQueue))
}

func TestHeartbeatOnExpiredAttemptFinalizes(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	env.advance(31 * time.Minute)

	_, err := env.svc.Heartbeat(context.Background(), at.ID, env.learnerID, selection(60))
	require.ErrorIs(t, err, ErrAttemptFinalized)

	stored, err := env.store.GetByID(context.Background(), at.ID)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusTimedOut, stored.Status)
}

// ────────────────────────────────────────────────────────────────────────────
// Sweeper
// ────────────────────────────────────────────────────────────────────────────

func TestFinalizeExpiredSweepsOnlyPastDeadline(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindQuiz, 5)

	abandonedOne := startAttempt(t, env, a)

	other := uuid.New()
	env.enrollments.enrolled[other] = true
	atTwo, _, err := env.svc.Start(context.Background(), a.ID, other)
	require.NoError(t, err)

	env.advance(31 * time.Minute)

	// A third attempt started just now is still live.
	live := uuid.New()
	env.enrollments.enrolled[live] = true
	atLive, _, err := env.svc.Start(context.Background(), a.ID, live)
	require.NoError(t, err)

	n, err := env.svc.FinalizeExpired(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []uuid.UUID{abandonedOne.ID, atTwo.ID} {
		stored, err := env.store.GetByID(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, model.AttemptStatusTimedOut, stored.Status)
	}
	stored, err := env.store.GetByID(context.Background(), atLive.ID)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusInProgress, stored.Status)
}

// ────────────────────────────────────────────────────────────────────────────
// Reads
// ────────────────────────────────────────────────────────────────────────────

func TestGetAttemptReconcilesStaleInProgress(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	env.advance(31 * time.Minute)

	got, _, err := env.svc.GetAttempt(context.Background(), at.ID, env.learnerID)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusTimedOut, got.Status)
}

func TestRemainingSelfHealsCache(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	key := config.CacheKey.AttemptStartKey(at.ID.String())
	env.mr.Del(key)

	env.advance(10 * time.Minute)
	remaining := env.svc.Remaining(context.Background(), at, a)
	require.Equal(t, 20*60, remaining)
	require.True(t, env.mr.Exists(key))
}

func TestGetForGradingOwnerOnly(t *testing.T) {
	env := newAttemptEnv(t)
	a := env.addAssessment(model.AssessmentKindExam, 1)
	at := startAttempt(t, env, a)

	_, err := env.svc.Submit(context.Background(), at.ID, env.learnerID)
	require.NoError(t, err)

	_, _, err = env.svc.GetForGrading(context.Background(), at.ID, nil)
	require.ErrorIs(t, err, ErrForbidden)

	student := &model.User{ID: env.learnerID, Role: model.RoleStudent}
	_, _, err = env.svc.GetForGrading(context.Background(), at.ID, student)
	require.ErrorIs(t, err, ErrForbidden)

	otherTutor := &model.User{ID: uuid.New(), Role: model.RoleTutor}
	_, _, err = env.svc.GetForGrading(context.Background(), at.ID, otherTutor)
	require.ErrorIs(t, err, ErrForbidden)

	owner := &model.User{ID: a.CreatedBy, Role: model.RoleTutor}
	gotAttempt, gotAssessment, err := env.svc.GetForGrading(context.Background(), at.ID, owner)
	require.NoError(t, err)
	require.Equal(t, at.ID, gotAttempt.ID)
	require.Equal(t, a.ID, gotAssessment.ID)

	admin := &model.User{ID: uuid.New(), Role: model.RoleAdmin}
	_, _, err = env.svc.GetForGrading(context.Background(), at.ID, admin)
	require.NoError(t, err)
}

func TestAttachFileRequiresFileUploadQuestion(t *testing.T) {
	env := newAttemptEnv(t)
	upload := model.Question{ID: uuid.New(), Type: model.QuestionTypeFileUpload, Text: "attach", Marks: 5}
	essay := model.Question{ID: uuid.New(), Type: model.QuestionTypeSubjective, Text: "write", Marks: 5}
	a := env.addAssessment(model.AssessmentKindExam, 1, upload, essay)
	at := startAttempt(t, env, a)

	sec := a.Sections[0]
	got, err := env.svc.AttachFile(context.Background(), at.ID, env.learnerID, sec.ID, upload.ID, "/uploads/abc.pdf", "essay.pdf")
	require.NoError(t, err)
	ans := got.FindAnswer(sec.ID, upload.ID)
	require.Equal(t, "/uploads/abc.pdf", ans.FilePath)
	require.Equal(t, "essay.pdf", ans.FileName)

	_, err = env.svc.AttachFile(context.Background(), at.ID, env.learnerID, sec.ID, essay.ID, "/uploads/x.pdf", "x.pdf")
	require.ErrorIs(t, err, ErrNotFileQuestion)
}
