package websocket

import "github.com/eduspark/eduspark-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionHeartbeat Action = "heartbeat"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestPayload is the single client frame shape; which fields matter
// depends on Action.
type RequestPayload struct {
	Action        Action              `json:"action"`
	Answers       []model.AnswerPatch `json:"answers,omitempty"`
	TimeRemaining *int                `json:"time_remaining,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventTick      Event = "tick"
	EventFinalized Event = "finalized"
	EventPong      Event = "pong"
)

// SavedResponse acknowledges an autosave frame.
type SavedResponse struct {
	Event  Event `json:"event"`
	Merged int   `json:"merged"`
}

// TickResponse returns the authoritative countdown after a heartbeat.
type TickResponse struct {
	Event         Event `json:"event"`
	TimeRemaining int   `json:"time_remaining"`
}

// FinalizedResponse reports the terminal attempt state after a submit, or
// after the server detects expiry mid-stream.
type FinalizedResponse struct {
	Event   Event                `json:"event"`
	Attempt model.AttemptSummary `json:"attempt"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
