package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eduspark/eduspark-backend/internal/middleware"
	"github.com/eduspark/eduspark-backend/internal/model"
	"github.com/eduspark/eduspark-backend/internal/response"
	"github.com/eduspark/eduspark-backend/internal/service"
	"github.com/eduspark/eduspark-backend/internal/validator"
)

// AssessmentHandler handles the authoring surface and the learner-facing
// paper endpoint.
type AssessmentHandler struct {
	assessmentService *service.AssessmentService
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(assessmentService *service.AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{assessmentService: assessmentService}
}

// Create godoc
// POST /api/v1/tutor/assessments
// Creates an unpublished assessment owned by the caller.
func (h *AssessmentHandler) Create(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.assessmentService.Create(c.Request.Context(), &req, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrNoCorrectOption) {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"assessment": a})
}

// Publish godoc
// POST /api/v1/tutor/assessments/:assessment_id/publish
// Freezes total marks, publishes the assessment and warms the payload cache.
func (h *AssessmentHandler) Publish(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	a, err := h.assessmentService.Publish(c.Request.Context(), assessmentID, claims.UserID, claims.Role == model.RoleAdmin)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAssessmentNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNotAssessmentOwner):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		case errors.Is(err, service.ErrAlreadyPublished):
			response.Fail(c, http.StatusConflict, response.ErrConflict)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": a})
}

// Get godoc
// GET /api/v1/tutor/assessments/:assessment_id
// Returns the full definition, answer keys included. Grader-only route.
func (h *AssessmentHandler) Get(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	a, err := h.assessmentService.GetByID(c.Request.Context(), assessmentID)
	if err != nil {
		if errors.Is(err, service.ErrAssessmentNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": a})
}

// ListByCourse godoc
// GET /api/v1/courses/:course_id/assessments
func (h *AssessmentHandler) ListByCourse(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("course_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	assessments, err := h.assessmentService.ListByCourse(c.Request.Context(), courseID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessments": assessments})
}

// GetPaper godoc
// GET /api/v1/student/assessments/:assessment_id/paper
// Returns the learner-facing payload with answer keys stripped. Served from
// the Redis payload cache.
func (h *AssessmentHandler) GetPaper(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	payload, err := h.assessmentService.GetPayload(c.Request.Context(), assessmentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAssessmentNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNotEligible):
			response.Fail(c, http.StatusForbidden, response.ErrNotEligible)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"paper": payload})
}
