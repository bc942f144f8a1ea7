package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eduspark/eduspark-backend/internal/middleware"
	"github.com/eduspark/eduspark-backend/internal/model"
	"github.com/eduspark/eduspark-backend/internal/service"
	ws "github.com/eduspark/eduspark-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the attempt session: autosave, heartbeat and submit over
// a single connection instead of separate HTTP calls every few seconds.
type WSHandler struct {
	attemptService    *service.AttemptService
	assessmentService *service.AssessmentService
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, assessmentService *service.AssessmentService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService:    attemptService,
		assessmentService: assessmentService,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Upgrades to WebSocket for real-time autosave and countdown sync.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	// Verify ownership and liveness before committing to the upgrade.
	attempt, assessment, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "no access to this attempt"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("learner_id", claims.UserID.String()).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Learner connected")

	if attempt.Status != model.AttemptStatusInProgress {
		ws.WriteTyped(conn, ws.FinalizedResponse{
			Event:   ws.EventFinalized,
			Attempt: attempt.Summarize(assessment.Kind),
		})
		return
	}

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			if h.handleAutosave(conn, wsLog, attemptID, claims.UserID, assessment.Kind, &msg) {
				return
			}
		case ws.ActionHeartbeat:
			if h.handleHeartbeat(conn, wsLog, attemptID, claims.UserID, assessment.Kind, &msg) {
				return
			}
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, attemptID, claims.UserID, assessment.Kind)
			return
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

// handleAutosave merges the frame's answers. Returns true when the attempt
// turned out to be finalized and the stream should end.
func (h *WSHandler) handleAutosave(conn *websocket.Conn, wsLog zerolog.Logger, attemptID, learnerID uuid.UUID, kind model.AssessmentKind, msg *ws.RequestPayload) bool {
	req := &model.SaveAnswersRequest{Answers: msg.Answers, TimeRemaining: msg.TimeRemaining}

	if _, err := h.attemptService.Save(context.Background(), attemptID, learnerID, req); err != nil {
		if errors.Is(err, service.ErrAttemptFinalized) {
			return h.sendFinalized(conn, attemptID, learnerID, kind)
		}
		wsLog.Error().Err(err).Msg("Autosave error")
		ws.WriteError(conn, "save failed")
		return false
	}

	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, Merged: len(msg.Answers)})
	return false
}

// handleHeartbeat records the countdown and echoes the authoritative value.
func (h *WSHandler) handleHeartbeat(conn *websocket.Conn, wsLog zerolog.Logger, attemptID, learnerID uuid.UUID, kind model.AssessmentKind, msg *ws.RequestPayload) bool {
	remaining, err := h.attemptService.Heartbeat(context.Background(), attemptID, learnerID, msg.TimeRemaining)
	if err != nil {
		if errors.Is(err, service.ErrAttemptFinalized) {
			return h.sendFinalized(conn, attemptID, learnerID, kind)
		}
		wsLog.Error().Err(err).Msg("Heartbeat error")
		ws.WriteError(conn, "heartbeat failed")
		return false
	}

	ws.WriteTyped(conn, ws.TickResponse{Event: ws.EventTick, TimeRemaining: remaining})
	return false
}

func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, attemptID, learnerID uuid.UUID, kind model.AssessmentKind) {
	attempt, err := h.attemptService.Submit(context.Background(), attemptID, learnerID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Submit error")
		ws.WriteError(conn, "submit failed")
		return
	}

	wsLog.Info().
		Str("status", string(attempt.Status)).
		Float64("total_marks", attempt.TotalMarksAwarded).
		Msg("Attempt submitted over stream")

	ws.WriteTyped(conn, ws.FinalizedResponse{
		Event:   ws.EventFinalized,
		Attempt: attempt.Summarize(kind),
	})
}

// sendFinalized pushes the terminal state after a mid-stream expiry. Always
// returns true so callers can end the loop.
func (h *WSHandler) sendFinalized(conn *websocket.Conn, attemptID, learnerID uuid.UUID, kind model.AssessmentKind) bool {
	attempt, _, err := h.attemptService.GetAttempt(context.Background(), attemptID, learnerID)
	if err != nil {
		ws.WriteError(conn, "attempt is finalized")
		return true
	}
	ws.WriteTyped(conn, ws.FinalizedResponse{
		Event:   ws.EventFinalized,
		Attempt: attempt.Summarize(kind),
	})
	return true
}
