package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptStartKey returns the cache key for an attempt's authoritative start time.
func (r *CacheKeyStruct) AttemptStartKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:started_at", attemptID)
}

// AttemptAnswersKey returns the cache key for an attempt's autosaved answers.
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// LearnerActiveAttemptKey returns the cache key for a learner's in-progress attempt on an assessment.
func (r *CacheKeyStruct) LearnerActiveAttemptKey(learnerID, assessmentID string) string {
	return fmt.Sprintf("learner:%s:assessment:%s:active_attempt", learnerID, assessmentID)
}

// AssessmentPayloadKey returns the cache key for an assessment's learner-facing payload.
func (r *CacheKeyStruct) AssessmentPayloadKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:payload", assessmentID)
}

// AssessmentDurationKey returns the cache key for an assessment's duration.
func (r *CacheKeyStruct) AssessmentDurationKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:duration", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
