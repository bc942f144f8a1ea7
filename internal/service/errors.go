package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eduspark/eduspark-backend/internal/model"
)

// Domain errors shared by the attempt lifecycle and grading services. All of
// these represent recoverable business-rule violations; handlers map them to
// typed response codes.
var (
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrNotEligible        = errors.New("learner is not eligible for this assessment")
	ErrAttemptFinalized   = errors.New("attempt is finalized and immutable")
	ErrAttemptNotFinal    = errors.New("attempt has not been finalized")
	ErrForbidden          = errors.New("operation not permitted for this principal")
	ErrAttemptCapReached  = errors.New("attempt cap reached for this assessment")
	ErrAlreadyGraded      = errors.New("a grade already exists for this attempt")
	ErrGradeNotFound      = errors.New("grade not found")
	ErrNotFileQuestion    = errors.New("question does not accept file answers")
)

// AlreadyCompletedError is returned when a learner tries to start an
// assessment they have already finished. It carries a pointer to the existing
// attempt so clients can redirect to the result.
type AlreadyCompletedError struct {
	AttemptID uuid.UUID
	Status    model.AttemptStatus
	TimedOut  bool
}

func (e *AlreadyCompletedError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("attempt %s expired before submission", e.AttemptID)
	}
	return fmt.Sprintf("assessment already completed in attempt %s", e.AttemptID)
}
