package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states. Exams and quizzes share
// one vocabulary; quiz clients that expect the legacy "completed" label get it
// through StatusLabel.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusTimedOut   AttemptStatus = "timed_out"
	AttemptStatusGraded     AttemptStatus = "graded"
)

// IsFinal reports whether the status permits no further answer mutation.
func (s AttemptStatus) IsFinal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusTimedOut || s == AttemptStatusGraded
}

// StatusLabel renders the status for a given assessment kind. Quiz clients
// historically received "completed" instead of "submitted".
func StatusLabel(s AttemptStatus, kind AssessmentKind) string {
	if kind == AssessmentKindQuiz && s == AttemptStatusSubmitted {
		return "completed"
	}
	return string(s)
}

// Answer holds a learner's response to one question plus its grading state.
// The manual-grading path may only touch IsGraded, MarksAwarded and Feedback.
type Answer struct {
	QuestionID     uuid.UUID `json:"question_id"`
	SelectedOption *int      `json:"selected_option,omitempty"`
	AnswerText     string    `json:"answer_text,omitempty"`
	FilePath       string    `json:"file_path,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	IsGraded       bool      `json:"is_graded"`
	MarksAwarded   float64   `json:"marks_awarded"`
	Feedback       string    `json:"feedback,omitempty"`
}

// AttemptSection mirrors an assessment section's question list at the moment
// the attempt was created. Later catalog edits do not reshape it.
type AttemptSection struct {
	SectionID uuid.UUID `json:"section_id"`
	Answers   []Answer  `json:"answers"`
}

// Attempt is one learner's instance of answering an assessment. Sections are
// persisted as a JSONB document; Version backs optimistic locking so a save
// racing a timeout cannot silently clobber the finalized record.
type Attempt struct {
	ID                uuid.UUID        `json:"id"`
	AssessmentID      uuid.UUID        `json:"assessment_id"`
	LearnerID         uuid.UUID        `json:"learner_id"`
	AttemptNumber     int              `json:"attempt_number"`
	Status            AttemptStatus    `json:"status"`
	StartedAt         time.Time        `json:"started_at"`
	SubmittedAt       *time.Time       `json:"submitted_at,omitempty"`
	TimeRemaining     int              `json:"time_remaining"`
	Sections          []AttemptSection `json:"sections"`
	TotalMarksAwarded float64          `json:"total_marks_awarded"`
	Percentage        float64          `json:"percentage"`
	IsGraded          bool             `json:"is_graded"`
	Version           int              `json:"-"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewAttemptSkeleton snapshots the assessment's section/question shape into an
// empty answer sheet. TimeRemaining starts at the full duration.
func NewAttemptSkeleton(a *Assessment, learnerID uuid.UUID, attemptNumber int) *Attempt {
	sections := make([]AttemptSection, 0, len(a.Sections))
	for i := range a.Sections {
		sec := AttemptSection{
			SectionID: a.Sections[i].ID,
			Answers:   make([]Answer, 0, len(a.Sections[i].Questions)),
		}
		for j := range a.Sections[i].Questions {
			sec.Answers = append(sec.Answers, Answer{
				QuestionID: a.Sections[i].Questions[j].ID,
			})
		}
		sections = append(sections, sec)
	}
	return &Attempt{
		AssessmentID:  a.ID,
		LearnerID:     learnerID,
		AttemptNumber: attemptNumber,
		Status:        AttemptStatusInProgress,
		TimeRemaining: a.DurationMinutes * 60,
		Sections:      sections,
	}
}

// FindAnswer locates the answer slot for a question, or nil if the question
// was never part of this attempt's snapshot.
func (at *Attempt) FindAnswer(sectionID, questionID uuid.UUID) *Answer {
	for i := range at.Sections {
		if at.Sections[i].SectionID != sectionID {
			continue
		}
		for j := range at.Sections[i].Answers {
			if at.Sections[i].Answers[j].QuestionID == questionID {
				return &at.Sections[i].Answers[j]
			}
		}
	}
	return nil
}

// SumMarks returns the sum of marks awarded across every answer. The stored
// TotalMarksAwarded must always equal this value.
func (at *Attempt) SumMarks() float64 {
	var total float64
	for i := range at.Sections {
		for j := range at.Sections[i].Answers {
			total += at.Sections[i].Answers[j].MarksAwarded
		}
	}
	return total
}

// AllGraded reports whether every answer across every section is graded.
func (at *Attempt) AllGraded() bool {
	for i := range at.Sections {
		for j := range at.Sections[i].Answers {
			if !at.Sections[i].Answers[j].IsGraded {
				return false
			}
		}
	}
	return true
}

// AnswerPatch is a partial update for one answer slot. Only the fields
// present are merged; grading fields are never writable through this path.
type AnswerPatch struct {
	SectionID      uuid.UUID `json:"section_id" binding:"required"`
	QuestionID     uuid.UUID `json:"question_id" binding:"required"`
	SelectedOption *int      `json:"selected_option" binding:"omitempty,min=0"`
	AnswerText     *string   `json:"answer_text" binding:"omitempty,max=20000"`
}

// SaveAnswersRequest is the autosave payload.
type SaveAnswersRequest struct {
	Answers       []AnswerPatch `json:"answers" binding:"omitempty,dive"`
	TimeRemaining *int          `json:"time_remaining" binding:"omitempty,min=0"`
}

// HeartbeatRequest carries the client-reported countdown. Advisory only;
// expiry is always decided from the server clock. An omitted value asks for
// the authoritative clock without reporting anything.
type HeartbeatRequest struct {
	TimeRemaining *int `json:"time_remaining" binding:"omitempty,min=0"`
}

// ManualGradeEntry assigns marks and feedback to one answer.
type ManualGradeEntry struct {
	SectionID    uuid.UUID `json:"section_id" binding:"required"`
	QuestionID   uuid.UUID `json:"question_id" binding:"required"`
	MarksAwarded float64   `json:"marks_awarded"`
	Feedback     string    `json:"feedback" binding:"omitempty,max=4000"`
}

// GradeAttemptRequest is the manual-grading payload.
type GradeAttemptRequest struct {
	Entries []ManualGradeEntry `json:"entries" binding:"required,min=1,dive"`
}

// AttemptSummary is the compact result object returned by lifecycle
// operations.
type AttemptSummary struct {
	AttemptID         uuid.UUID `json:"attempt_id"`
	AssessmentID      uuid.UUID `json:"assessment_id"`
	AttemptNumber     int       `json:"attempt_number"`
	Status            string    `json:"status"`
	TimeRemaining     *int      `json:"time_remaining"`
	TotalMarksAwarded *float64  `json:"total_marks_awarded"`
	Percentage        *float64  `json:"percentage"`
	IsGraded          bool      `json:"is_graded"`
}

// Summarize builds the result object for API responses. TimeRemaining is only
// reported while in progress; marks only once finalized.
func (at *Attempt) Summarize(kind AssessmentKind) AttemptSummary {
	s := AttemptSummary{
		AttemptID:     at.ID,
		AssessmentID:  at.AssessmentID,
		AttemptNumber: at.AttemptNumber,
		Status:        StatusLabel(at.Status, kind),
		IsGraded:      at.IsGraded,
	}
	if at.Status == AttemptStatusInProgress {
		remaining := at.TimeRemaining
		s.TimeRemaining = &remaining
	} else {
		total := at.TotalMarksAwarded
		pct := at.Percentage
		s.TotalMarksAwarded = &total
		s.Percentage = &pct
	}
	return s
}
