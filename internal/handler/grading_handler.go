package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eduspark/eduspark-backend/internal/middleware"
	"github.com/eduspark/eduspark-backend/internal/model"
	"github.com/eduspark/eduspark-backend/internal/response"
	"github.com/eduspark/eduspark-backend/internal/service"
	"github.com/eduspark/eduspark-backend/internal/validator"
)

// GradingHandler exposes the manual-grading surface and grade reads.
type GradingHandler struct {
	gradingService *service.GradingService
	attemptService *service.AttemptService
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(gradingService *service.GradingService, attemptService *service.AttemptService) *GradingHandler {
	return &GradingHandler{
		gradingService: gradingService,
		attemptService: attemptService,
	}
}

func graderFromClaims(c *gin.Context) *model.User {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return nil
	}
	return &model.User{ID: claims.UserID, Role: claims.Role}
}

// GradeAttempt godoc
// POST /api/v1/tutor/attempts/:attempt_id/grade
// Applies manual marks to subjective answers of a finalized attempt.
func (h *GradingHandler) GradeAttempt(c *gin.Context) {
	grader := graderFromClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GradeAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, grade, err := h.gradingService.GradeAttempt(c.Request.Context(), attemptID, grader, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrForbidden):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		case errors.Is(err, service.ErrAttemptNotFinal):
			response.Fail(c, http.StatusConflict, response.ErrNotFinalized)
		default:
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		}
		return
	}

	data := gin.H{
		"attempt_id":          attempt.ID,
		"status":              attempt.Status,
		"total_marks_awarded": attempt.TotalMarksAwarded,
		"is_graded":           attempt.IsGraded,
	}
	if grade != nil {
		data["grade"] = grade
	}
	response.Success(c, http.StatusOK, data)
}

// GetAttemptForGrading godoc
// GET /api/v1/tutor/attempts/:attempt_id
// Returns the full answer sheet for the grading screen. Tutors only see
// attempts of their own assessments.
func (h *GradingHandler) GetAttemptForGrading(c *gin.Context) {
	grader := graderFromClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, a, err := h.attemptService.GetForGrading(c.Request.Context(), attemptID, grader)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrForbidden):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attempt":    attempt,
		"assessment": a,
	})
}

// ListAttempts godoc
// GET /api/v1/tutor/assessments/:assessment_id/attempts?page=&per_page=
// Pages through an assessment's attempts for the grading queue.
func (h *GradingHandler) ListAttempts(c *gin.Context) {
	grader := graderFromClaims(c)
	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	attempts, pagination, err := h.gradingService.ListAttemptsForAssessment(c.Request.Context(), assessmentID, grader, page, perPage)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAssessmentNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrForbidden):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts}, pagination)
}

// GetGrade godoc
// GET /api/v1/attempts/:attempt_id/grade
// Returns the grade record; visible to the learner who owns the attempt and
// to graders.
func (h *GradingHandler) GetGrade(c *gin.Context) {
	requester := graderFromClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	grade, err := h.gradingService.GetGradeForAttempt(c.Request.Context(), attemptID, requester)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound), errors.Is(err, service.ErrGradeNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrForbidden):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"grade": grade})
}

// ListMyGrades godoc
// GET /api/v1/student/grades
// Lists the caller's grade records.
func (h *GradingHandler) ListMyGrades(c *gin.Context) {
	claims := middleware.GetClaims(c)

	grades, err := h.gradingService.ListGradesForLearner(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if grades == nil {
		grades = []model.Grade{}
	}

	response.Success(c, http.StatusOK, gin.H{"grades": grades})
}
