package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mentora-ai/mentora/internal/engine"
	"github.com/mentora-ai/mentora/internal/extract"
)

// TurnService is the slice of the engine the chat surface needs.
type TurnService interface {
	ProcessTurn(ctx context.Context, req engine.TurnRequest) (engine.TurnResult, error)
	RecordAttempt(ctx context.Context, userID string, exerciseID int64, sig extract.AttemptSignal) (int64, error)
}

// ChatHandler exposes the tutoring turn and attempt endpoints.
type ChatHandler struct {
	Engine TurnService
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("/chat", h.chat)
	g.POST("/attempts", h.attempt)
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	res, err := h.Engine.ProcessTurn(c.Request().Context(), engine.TurnRequest{
		UserID:  userID(c),
		Message: req.Message,
		Mode:    req.Mode,
		Topic:   req.Topic,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, ChatResponse{
		Reply:          res.Reply,
		State:          string(res.State),
		Simulated:      res.Simulated,
		FactsStored:    res.Consent.FactsStored,
		FactsDropped:   res.Consent.FactsDropped,
		ConsentGranted: res.Consent.ConsentGranted,
	})
}

func (h *ChatHandler) attempt(c echo.Context) error {
	var req AttemptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ExerciseID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "exercise_id is required")
	}

	id, err := h.Engine.RecordAttempt(c.Request().Context(), userID(c), req.ExerciseID, extract.AttemptSignal{
		Topic:     req.Topic,
		Subtopic:  req.Subtopic,
		IsCorrect: req.IsCorrect,
		Pattern:   req.Pattern,
		Severity:  req.Severity,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, AttemptResponse{AttemptID: id})
}
