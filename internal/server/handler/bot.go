package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Controller is the scan loop the bot endpoints drive.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() domain.ControllerStatus
}

// BotHandler starts, stops and reports the scan loop.
type BotHandler struct {
	ctrl   Controller
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(ctrl Controller, logger *slog.Logger) *BotHandler {
	return &BotHandler{ctrl: ctrl, logger: logger}
}

// Status returns the controller status.
// GET /api/bot/status
func (h *BotHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

type botRequest struct {
	Action string `json:"action"`
}

// Control starts or stops the loop and returns the new status. Starting a
// running loop is a conflict.
// POST /api/bot/status {"action":"start"|"stop"}
func (h *BotHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req botRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	switch req.Action {
	case "start":
		if err := h.ctrl.Start(r.Context()); err != nil {
			writeDomainError(w, r, h.logger, "failed to start bot", err)
			return
		}
	case "stop":
		h.ctrl.Stop()
	default:
		writeError(w, http.StatusBadRequest, `action must be "start" or "stop"`)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: bot "+req.Action)
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}
