package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentKind distinguishes single-attempt exams from retakeable quizzes.
type AssessmentKind string

const (
	AssessmentKindExam AssessmentKind = "exam"
	AssessmentKindQuiz AssessmentKind = "quiz"
)

// QuestionType enumerates the supported question variants.
type QuestionType string

const (
	QuestionTypeMCQ        QuestionType = "mcq"
	QuestionTypeSubjective QuestionType = "subjective"
	QuestionTypeFileUpload QuestionType = "file_upload"
)

// Option is a single MCQ choice. IsCorrect never leaves the server on
// student-facing payloads (see QuestionForDisplay).
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct,omitempty"`
}

// Question is one question inside an assessment section. The populated
// marks fields depend on Type: MCQ uses PositiveMarks/NegativeMarks,
// subjective and file-upload questions use Marks.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	Type          QuestionType `json:"type"`
	Text          string       `json:"text"`
	Options       []Option     `json:"options,omitempty"`
	PositiveMarks float64      `json:"positive_marks,omitempty"`
	NegativeMarks float64      `json:"negative_marks,omitempty"`
	Marks         float64      `json:"marks,omitempty"`
}

// MaxMarks returns the highest mark this question can award.
func (q *Question) MaxMarks() float64 {
	if q.Type == QuestionTypeMCQ {
		return q.PositiveMarks
	}
	return q.Marks
}

// CorrectOption returns the index of the option flagged correct, or -1.
func (q *Question) CorrectOption() int {
	for i := range q.Options {
		if q.Options[i].IsCorrect {
			return i
		}
	}
	return -1
}

// AssessmentSection groups ordered questions.
type AssessmentSection struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Assessment is the exam or quiz definition. Sections are stored as a JSONB
// document; the attempt engine treats them as read-only during an attempt.
type Assessment struct {
	ID                uuid.UUID           `json:"id"`
	CourseID          uuid.UUID           `json:"course_id"`
	Kind              AssessmentKind      `json:"kind"`
	Title             string              `json:"title"`
	Sections          []AssessmentSection `json:"sections"`
	DurationMinutes   int                 `json:"duration_minutes"`
	StartsAt          *time.Time          `json:"starts_at,omitempty"`
	EndsAt            *time.Time          `json:"ends_at,omitempty"`
	IsPublished       bool                `json:"is_published"`
	PassingPercentage float64             `json:"passing_percentage"`
	MaxAttempts       int                 `json:"max_attempts"`
	TotalMarks        float64             `json:"total_marks"`
	CreatedBy         uuid.UUID           `json:"created_by"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// ComputeTotalMarks sums the maximum marks across every section.
func (a *Assessment) ComputeTotalMarks() float64 {
	var total float64
	for i := range a.Sections {
		for j := range a.Sections[i].Questions {
			total += a.Sections[i].Questions[j].MaxMarks()
		}
	}
	return total
}

// FindQuestion locates a question by section and question ID.
func (a *Assessment) FindQuestion(sectionID, questionID uuid.UUID) (*Question, bool) {
	for i := range a.Sections {
		if a.Sections[i].ID != sectionID {
			continue
		}
		for j := range a.Sections[i].Questions {
			if a.Sections[i].Questions[j].ID == questionID {
				return &a.Sections[i].Questions[j], true
			}
		}
	}
	return nil, false
}

// WithinWindow reports whether now falls inside the scheduled availability
// window. Unset bounds are open-ended.
func (a *Assessment) WithinWindow(now time.Time) bool {
	if a.StartsAt != nil && now.Before(*a.StartsAt) {
		return false
	}
	if a.EndsAt != nil && now.After(*a.EndsAt) {
		return false
	}
	return true
}

// QuestionForDisplay is a question with the correct-answer fields stripped,
// safe to send to a learner mid-attempt.
type QuestionForDisplay struct {
	ID      uuid.UUID    `json:"id"`
	Type    QuestionType `json:"type"`
	Text    string       `json:"text"`
	Options []string     `json:"options,omitempty"`
	Marks   float64      `json:"marks"`
}

// SectionForDisplay mirrors AssessmentSection without answer keys.
type SectionForDisplay struct {
	ID        uuid.UUID            `json:"id"`
	Title     string               `json:"title"`
	Questions []QuestionForDisplay `json:"questions"`
}

// AssessmentPayload is the Redis-cached payload sent to learners
// (no correct answers, no negative-marking detail).
type AssessmentPayload struct {
	AssessmentID uuid.UUID           `json:"assessment_id"`
	Title        string              `json:"title"`
	Kind         AssessmentKind      `json:"kind"`
	Duration     int                 `json:"duration_minutes"`
	Sections     []SectionForDisplay `json:"sections"`
}

// DisplayPayload builds the learner-facing view of an assessment.
func (a *Assessment) DisplayPayload() *AssessmentPayload {
	payload := &AssessmentPayload{
		AssessmentID: a.ID,
		Title:        a.Title,
		Kind:         a.Kind,
		Duration:     a.DurationMinutes,
		Sections:     make([]SectionForDisplay, 0, len(a.Sections)),
	}
	for i := range a.Sections {
		sec := SectionForDisplay{
			ID:        a.Sections[i].ID,
			Title:     a.Sections[i].Title,
			Questions: make([]QuestionForDisplay, 0, len(a.Sections[i].Questions)),
		}
		for j := range a.Sections[i].Questions {
			q := &a.Sections[i].Questions[j]
			dq := QuestionForDisplay{
				ID:    q.ID,
				Type:  q.Type,
				Text:  q.Text,
				Marks: q.MaxMarks(),
			}
			for _, opt := range q.Options {
				dq.Options = append(dq.Options, opt.Text)
			}
			sec.Questions = append(sec.Questions, dq)
		}
		payload.Sections = append(payload.Sections, sec)
	}
	return payload
}

// CreateAssessmentRequest is the payload for creating a new assessment.
type CreateAssessmentRequest struct {
	CourseID          uuid.UUID              `json:"course_id" binding:"required"`
	Kind              AssessmentKind         `json:"kind" binding:"required,oneof=exam quiz"`
	Title             string                 `json:"title" binding:"required,min=3,max=255"`
	DurationMinutes   int                    `json:"duration_minutes" binding:"required,min=1,max=480"`
	StartsAt          *time.Time             `json:"starts_at" binding:"omitempty"`
	EndsAt            *time.Time             `json:"ends_at" binding:"omitempty,gtfield=StartsAt"`
	PassingPercentage float64                `json:"passing_percentage" binding:"min=0,max=100"`
	MaxAttempts       int                    `json:"max_attempts" binding:"omitempty,min=1,max=20"`
	Sections          []CreateSectionRequest `json:"sections" binding:"required,min=1,dive"`
}

// CreateSectionRequest is one section in CreateAssessmentRequest.
type CreateSectionRequest struct {
	Title     string                  `json:"title" binding:"required,min=1,max=255"`
	Questions []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

// CreateQuestionRequest is one question in CreateSectionRequest.
type CreateQuestionRequest struct {
	Type          QuestionType `json:"type" binding:"required,oneof=mcq subjective file_upload"`
	Text          string       `json:"text" binding:"required,min=1,max=4000"`
	Options       []Option     `json:"options" binding:"omitempty,dive"`
	PositiveMarks float64      `json:"positive_marks" binding:"omitempty,min=0"`
	NegativeMarks float64      `json:"negative_marks" binding:"omitempty,min=0"`
	Marks         float64      `json:"marks" binding:"omitempty,min=0"`
}
