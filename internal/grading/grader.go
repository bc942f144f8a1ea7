// Package grading contains the pure auto-grader. It maps a submitted answer
// sheet plus the assessment definition to awarded marks for objectively
// gradable question types, leaving subjective and file answers for manual
// grading.
package grading

import (
	"github.com/eduspark/eduspark-backend/internal/model"
)

// GradeAnswer scores a single answer against its question. The second return
// reports whether the answer is now graded. Subjective and file-upload
// answers keep their last manually assigned marks and stay ungraded.
//
// MCQ rules: a nil selection scores zero without penalty; a wrong selection
// scores minus the question's NegativeMarks when negative marking is
// configured, zero otherwise. An out-of-range selection is treated as
// malformed and scores zero.
func GradeAnswer(q *model.Question, ans *model.Answer) (float64, bool) {
	switch q.Type {
	case model.QuestionTypeMCQ:
		if ans.SelectedOption == nil {
			return 0, true
		}
		selected := *ans.SelectedOption
		if selected < 0 || selected >= len(q.Options) {
			return 0, true
		}
		if selected == q.CorrectOption() {
			return q.PositiveMarks, true
		}
		if q.NegativeMarks > 0 {
			return -q.NegativeMarks, true
		}
		return 0, true
	case model.QuestionTypeSubjective, model.QuestionTypeFileUpload:
		return ans.MarksAwarded, ans.IsGraded
	default:
		// Unknown question type: never abort the submission, score zero
		// and leave it for manual review.
		return 0, false
	}
}

// Apply runs the auto-grader over every answer of the attempt, then refreshes
// the derived totals. Answers whose question no longer resolves in the
// assessment snapshot are skipped and scored zero.
func Apply(a *model.Assessment, at *model.Attempt) {
	for i := range at.Sections {
		sec := &at.Sections[i]
		for j := range sec.Answers {
			ans := &sec.Answers[j]
			q, ok := a.FindQuestion(sec.SectionID, ans.QuestionID)
			if !ok {
				ans.MarksAwarded = 0
				continue
			}
			marks, graded := GradeAnswer(q, ans)
			ans.MarksAwarded = marks
			ans.IsGraded = graded
		}
	}
	RefreshTotals(a, at)
}

// RefreshTotals recomputes TotalMarksAwarded, Percentage and IsGraded from
// the per-answer state. Callers must invoke it after any mutation of answer
// marks so the sum invariant holds.
func RefreshTotals(a *model.Assessment, at *model.Attempt) {
	at.TotalMarksAwarded = at.SumMarks()
	at.Percentage = Percentage(at.TotalMarksAwarded, a.TotalMarks)
	at.IsGraded = at.AllGraded()
}

// Percentage converts awarded marks to a percentage clamped to [0, 100].
func Percentage(total, max float64) float64 {
	if max <= 0 {
		return 0
	}
	pct := total / max * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// PassStatus applies the unified pass rule: both exams and quizzes pass on
// percentage against the assessment's passing threshold.
func PassStatus(percentage, passingPercentage float64) model.GradeStatus {
	if percentage >= passingPercentage {
		return model.GradeStatusPass
	}
	return model.GradeStatusFail
}

// Project builds the denormalized grade record from a fully graded attempt.
func Project(a *model.Assessment, at *model.Attempt) *model.Grade {
	grade := &model.Grade{
		AttemptID:    at.ID,
		AssessmentID: at.AssessmentID,
		LearnerID:    at.LearnerID,
		MaxMarks:     a.TotalMarks,
		Sections:     make([]model.GradeSection, 0, len(at.Sections)),
	}
	for i := range at.Sections {
		sec := &at.Sections[i]
		gs := model.GradeSection{
			SectionID: sec.SectionID,
			Questions: make([]model.GradeQuestion, 0, len(sec.Answers)),
		}
		for j := range sec.Answers {
			ans := &sec.Answers[j]
			var maxMarks float64
			if q, ok := a.FindQuestion(sec.SectionID, ans.QuestionID); ok {
				maxMarks = q.MaxMarks()
			}
			gs.Questions = append(gs.Questions, model.GradeQuestion{
				QuestionID:   ans.QuestionID,
				MarksAwarded: ans.MarksAwarded,
				MaxMarks:     maxMarks,
				Feedback:     ans.Feedback,
			})
			gs.TotalMarksAwarded += ans.MarksAwarded
			gs.MaxSectionMarks += maxMarks
		}
		grade.Sections = append(grade.Sections, gs)
	}
	grade.TotalMarksAwarded = at.TotalMarksAwarded
	grade.Percentage = Percentage(grade.TotalMarksAwarded, grade.MaxMarks)
	grade.Status = PassStatus(grade.Percentage, a.PassingPercentage)
	return grade
}
