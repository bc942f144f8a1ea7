package grading

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/eduspark/eduspark-backend/internal/model"
)

func intPtr(n int) *int { return &n }

func mcqQuestion(positive, negative float64, correct int) *model.Question {
	q := &model.Question{
		ID:            uuid.New(),
		Type:          model.QuestionTypeMCQ,
		Text:          "pick one",
		PositiveMarks: positive,
		NegativeMarks: negative,
	}
	for i := 0; i < 4; i++ {
		q.Options = append(q.Options, model.Option{Text: "option", IsCorrect: i == correct})
	}
	return q
}

func TestGradeAnswerMCQCorrect(t *testing.T) {
	q := mcqQuestion(5, 0, 2)

	marks, graded := GradeAnswer(q, &model.Answer{QuestionID: q.ID, SelectedOption: intPtr(2)})
	require.Equal(t, 5.0, marks)
	require.True(t, graded)
}

func TestGradeAnswerMCQWrongWithoutNegativeMarking(t *testing.T) {
	q := mcqQuestion(5, 0, 2)

	for _, sel := range []int{0, 1, 3} {
		marks, graded := GradeAnswer(q, &model.Answer{QuestionID: q.ID, SelectedOption: intPtr(sel)})
		require.Equal(t, 0.0, marks)
		require.True(t, graded)
	}
}

func TestGradeAnswerMCQWrongWithNegativeMarking(t *testing.T) {
	q := mcqQuestion(4, 1, 1)

	marks, graded := GradeAnswer(q, &model.Answer{QuestionID: q.ID, SelectedOption: intPtr(3)})
	require.Equal(t, -1.0, marks)
	require.True(t, graded)
}

func TestGradeAnswerMCQUnansweredNeverPenalized(t *testing.T) {
	q := mcqQuestion(4, 1, 1)

	marks, graded := GradeAnswer(q, &model.Answer{QuestionID: q.ID})
	require.Equal(t, 0.0, marks)
	require.True(t, graded)
}

func TestGradeAnswerMCQOutOfRangeScoresZero(t *testing.T) {
	q := mcqQuestion(4, 1, 1)

	marks, graded := GradeAnswer(q, &model.Answer{QuestionID: q.ID, SelectedOption: intPtr(9)})
	require.Equal(t, 0.0, marks)
	require.True(t, graded)
}

func TestGradeAnswerSubjectiveStaysUngraded(t *testing.T) {
	q := &model.Question{ID: uuid.New(), Type: model.QuestionTypeSubjective, Marks: 10}

	marks, graded := GradeAnswer(q, &model.Answer{QuestionID: q.ID, AnswerText: "my essay"})
	require.Equal(t, 0.0, marks)
	require.False(t, graded)
}

func TestGradeAnswerSubjectiveKeepsManualMarks(t *testing.T) {
	q := &model.Question{ID: uuid.New(), Type: model.QuestionTypeSubjective, Marks: 10}

	marks, graded := GradeAnswer(q, &model.Answer{QuestionID: q.ID, MarksAwarded: 7, IsGraded: true})
	require.Equal(t, 7.0, marks)
	require.True(t, graded)
}

func buildAssessment(questions ...model.Question) *model.Assessment {
	a := &model.Assessment{
		ID:       uuid.New(),
		Kind:     model.AssessmentKindExam,
		Sections: []model.AssessmentSection{{ID: uuid.New(), Title: "Main", Questions: questions}},
	}
	a.TotalMarks = a.ComputeTotalMarks()
	return a
}

func TestApplyMixedTypesRefreshesTotals(t *testing.T) {
	mcq := mcqQuestion(10, 0, 1)
	essay := model.Question{ID: uuid.New(), Type: model.QuestionTypeSubjective, Marks: 10}
	a := buildAssessment(*mcq, essay)

	at := model.NewAttemptSkeleton(a, uuid.New(), 1)
	at.Sections[0].Answers[0].SelectedOption = intPtr(1)
	at.Sections[0].Answers[1].AnswerText = "prose"

	Apply(a, at)

	require.Equal(t, 10.0, at.TotalMarksAwarded)
	require.Equal(t, 50.0, at.Percentage)
	require.False(t, at.IsGraded)
	require.Equal(t, at.SumMarks(), at.TotalMarksAwarded)
}

func TestApplyAllObjectiveFullyGraded(t *testing.T) {
	a := buildAssessment(*mcqQuestion(10, 0, 1))

	at := model.NewAttemptSkeleton(a, uuid.New(), 1)
	at.Sections[0].Answers[0].SelectedOption = intPtr(1)

	Apply(a, at)

	require.Equal(t, 10.0, at.TotalMarksAwarded)
	require.Equal(t, 100.0, at.Percentage)
	require.True(t, at.IsGraded)
}

func TestApplySkipsOrphanedAnswers(t *testing.T) {
	a := buildAssessment(*mcqQuestion(10, 0, 1))

	at := model.NewAttemptSkeleton(a, uuid.New(), 1)
	at.Sections[0].Answers[0].SelectedOption = intPtr(1)
	// Simulate a question removed from the catalog after the attempt started.
	at.Sections[0].Answers = append(at.Sections[0].Answers, model.Answer{
		QuestionID:     uuid.New(),
		SelectedOption: intPtr(0),
	})

	Apply(a, at)

	require.Equal(t, 10.0, at.TotalMarksAwarded)
	require.Equal(t, 0.0, at.Sections[0].Answers[1].MarksAwarded)
}

func TestPercentageClamped(t *testing.T) {
	require.Equal(t, 0.0, Percentage(-5, 10))
	require.Equal(t, 100.0, Percentage(15, 10))
	require.Equal(t, 0.0, Percentage(5, 0))
	require.Equal(t, 50.0, Percentage(5, 10))
}

func TestPassStatus(t *testing.T) {
	require.Equal(t, model.GradeStatusPass, PassStatus(70, 70))
	require.Equal(t, model.GradeStatusPass, PassStatus(90, 70))
	require.Equal(t, model.GradeStatusFail, PassStatus(69.9, 70))
}

func TestProjectBuildsSectionBreakdown(t *testing.T) {
	mcq := mcqQuestion(10, 0, 1)
	essay := model.Question{ID: uuid.New(), Type: model.QuestionTypeSubjective, Marks: 10}
	a := buildAssessment(*mcq, essay)
	a.PassingPercentage = 70

	at := model.NewAttemptSkeleton(a, uuid.New(), 1)
	at.ID = uuid.New()
	at.Sections[0].Answers[0].SelectedOption = intPtr(1)
	Apply(a, at)

	// Manual grading completes the essay.
	at.Sections[0].Answers[1].MarksAwarded = 7
	at.Sections[0].Answers[1].IsGraded = true
	at.Sections[0].Answers[1].Feedback = "solid"
	RefreshTotals(a, at)

	grade := Project(a, at)

	require.Equal(t, at.ID, grade.AttemptID)
	require.Len(t, grade.Sections, 1)
	require.Equal(t, 17.0, grade.Sections[0].TotalMarksAwarded)
	require.Equal(t, 20.0, grade.Sections[0].MaxSectionMarks)
	require.Equal(t, 17.0, grade.TotalMarksAwarded)
	require.Equal(t, 85.0, grade.Percentage)
	require.Equal(t, model.GradeStatusPass, grade.Status)
	require.Equal(t, "solid", grade.Sections[0].Questions[1].Feedback)
}
