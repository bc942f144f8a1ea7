package model

import (
	"time"

	"github.com/google/uuid"
)

// GradeStatus is the pass/fail outcome of a finalized attempt.
type GradeStatus string

const (
	GradeStatusPass GradeStatus = "pass"
	GradeStatusFail GradeStatus = "fail"
)

// GradeQuestion is the per-question line inside a grade's section breakdown.
type GradeQuestion struct {
	QuestionID   uuid.UUID `json:"question_id"`
	MarksAwarded float64   `json:"marks_awarded"`
	MaxMarks     float64   `json:"max_marks"`
	Feedback     string    `json:"feedback,omitempty"`
}

// GradeSection is the denormalized per-section breakdown.
type GradeSection struct {
	SectionID         uuid.UUID       `json:"section_id"`
	Questions         []GradeQuestion `json:"questions"`
	TotalMarksAwarded float64         `json:"total_marks_awarded"`
	MaxSectionMarks   float64         `json:"max_section_marks"`
}

// Grade is the reporting-facing projection of a fully graded attempt.
// At most one grade exists per attempt.
type Grade struct {
	ID                uuid.UUID      `json:"id"`
	AttemptID         uuid.UUID      `json:"attempt_id"`
	AssessmentID      uuid.UUID      `json:"assessment_id"`
	LearnerID         uuid.UUID      `json:"learner_id"`
	Sections          []GradeSection `json:"sections"`
	TotalMarksAwarded float64        `json:"total_marks_awarded"`
	MaxMarks          float64        `json:"max_marks"`
	Percentage        float64        `json:"percentage"`
	Status            GradeStatus    `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
