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

// AttemptHandler exposes the attempt lifecycle to learners.
type AttemptHandler struct {
	attemptService    *service.AttemptService
	assessmentService *service.AssessmentService
	mediaService      *service.MediaService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	attemptService *service.AttemptService,
	assessmentService *service.AssessmentService,
	mediaService *service.MediaService,
) *AttemptHandler {
	return &AttemptHandler{
		attemptService:    attemptService,
		assessmentService: assessmentService,
		mediaService:      mediaService,
	}
}

// Start godoc
// POST /api/v1/student/assessments/:assessment_id/attempts
// Begins a new attempt or resumes the in-progress one.
func (h *AttemptHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, resumed, err := h.attemptService.Start(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		h.failStart(c, err)
		return
	}

	a, aerr := h.assessmentService.GetByID(c.Request.Context(), assessmentID)
	kind := model.AssessmentKindExam
	if aerr == nil {
		kind = a.Kind
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{
		"attempt":  attempt.Summarize(kind),
		"sections": attempt.Sections,
		"resumed":  resumed,
	})
}

func (h *AttemptHandler) failStart(c *gin.Context, err error) {
	var completed *service.AlreadyCompletedError
	switch {
	case errors.As(err, &completed):
		code := response.ErrAlreadyCompleted
		if completed.TimedOut {
			code = response.ErrTimeExpired
		}
		response.FailWithFields(c, http.StatusConflict, code, map[string]string{
			"attempt_id": completed.AttemptID.String(),
			"status":     string(completed.Status),
		})
	case errors.Is(err, service.ErrAssessmentNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotEligible):
		response.Fail(c, http.StatusForbidden, response.ErrNotEligible)
	case errors.Is(err, service.ErrAttemptCapReached):
		response.Fail(c, http.StatusConflict, response.ErrAttemptCapReached)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// Save godoc
// PATCH /api/v1/student/attempts/:attempt_id/answers
// Merges partial answers into the in-progress attempt.
func (h *AttemptHandler) Save(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.Save(c.Request.Context(), attemptID, claims.UserID, &req)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"saved":          true,
		"time_remaining": attempt.TimeRemaining,
	})
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Finalizes the attempt and runs the auto-grader. Idempotent.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	kind := h.lookupKind(c, attempt.AssessmentID)
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt.Summarize(kind)})
}

// Heartbeat godoc
// POST /api/v1/student/attempts/:attempt_id/heartbeat
// Records the client countdown and returns the authoritative one.
func (h *AttemptHandler) Heartbeat(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.HeartbeatRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	remaining, err := h.attemptService.Heartbeat(c.Request.Context(), attemptID, claims.UserID, req.TimeRemaining)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"time_remaining": remaining})
}

// UploadAnswerFile godoc
// POST /api/v1/student/attempts/:attempt_id/answers/file
// Multipart upload of a file answer: form fields section_id, question_id, file.
func (h *AttemptHandler) UploadAnswerFile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sectionID, err := uuid.Parse(c.PostForm("section_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	questionID, err := uuid.Parse(c.PostForm("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	path, err := h.mediaService.SaveUpload(file, fileHeader)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFileType):
			response.Fail(c, http.StatusUnsupportedMediaType, response.ErrUnsupportedFile)
		case errors.Is(err, service.ErrFileTooLarge):
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrStorage)
		}
		return
	}

	attempt, err := h.attemptService.AttachFile(c.Request.Context(), attemptID, claims.UserID, sectionID, questionID, path, fileHeader.Filename)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	ans := attempt.FindAnswer(sectionID, questionID)
	response.Success(c, http.StatusOK, gin.H{
		"file_path": ans.FilePath,
		"file_name": ans.FileName,
	})
}

// Get godoc
// GET /api/v1/student/attempts/:attempt_id
// Returns the attempt, reconciled against the server clock.
func (h *AttemptHandler) Get(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, a, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attempt":  attempt.Summarize(a.Kind),
		"sections": attempt.Sections,
	})
}

// ListMine godoc
// GET /api/v1/student/attempts
// Lists every attempt belonging to the caller.
func (h *AttemptHandler) ListMine(c *gin.Context) {
	claims := middleware.GetClaims(c)

	attempts, err := h.attemptService.GetMyAttempts(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	summaries := make([]model.AttemptSummary, 0, len(attempts))
	for i := range attempts {
		kind := h.lookupKind(c, attempts[i].AssessmentID)
		summaries = append(summaries, attempts[i].Summarize(kind))
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": summaries})
}

func (h *AttemptHandler) lookupKind(c *gin.Context, assessmentID uuid.UUID) model.AssessmentKind {
	a, err := h.assessmentService.GetByID(c.Request.Context(), assessmentID)
	if err != nil {
		return model.AssessmentKindExam
	}
	return a.Kind
}

func (h *AttemptHandler) failAttempt(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrAttemptFinalized):
		response.Fail(c, http.StatusConflict, response.ErrAttemptFinalized)
	case errors.Is(err, service.ErrNotFileQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
