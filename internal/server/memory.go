package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mentora-ai/mentora/internal/brain"
	"github.com/mentora-ai/mentora/internal/memory/ltm"
	"github.com/mentora-ai/mentora/internal/memory/pack"
	"github.com/mentora-ai/mentora/internal/recommend"
	"github.com/mentora-ai/mentora/internal/store"
	"github.com/mentora-ai/mentora/internal/telemetry"
)

// ConsentService flips the personal-memory consent flags.
type ConsentService interface {
	Grant(ctx context.Context, userID string, patch store.ConsentPatch) error
	Revoke(ctx context.Context, userID string) error
}

// ConsentReader reads the current flags back.
type ConsentReader interface {
	GetConsent(ctx context.Context, userID string) (store.ConsentRecord, error)
}

// PackBuilder renders the memory pack.
type PackBuilder interface {
	Build(ctx context.Context, userID string, opts pack.Options) string
}

// ConsolidateService runs one consolidation sweep for a user.
type ConsolidateService interface {
	ConsolidateUser(ctx context.Context, userID string) (ltm.Result, error)
}

// Recommender picks the next exercise.
type Recommender interface {
	Recommend(ctx context.Context, userID string) (*recommend.Recommendation, error)
}

// PreferenceStore is the explicit preference slice of the long-term tier.
type PreferenceStore interface {
	SetPreference(ctx context.Context, userID, prefKey, value string) error
	GetPreference(ctx context.Context, userID, prefKey string) (string, bool, error)
	PreferenceHistory(ctx context.Context, userID, prefKey string) ([]string, error)
}

// MemoryHandler exposes consent, mode, preference, pack and consolidation
// endpoints.
type MemoryHandler struct {
	Consents    ConsentService
	ConsentRead ConsentReader
	Machine     *brain.Machine
	Prefs       PreferenceStore
	Pack        PackBuilder
	Consolidate ConsolidateService
	Recommend   Recommender
	Metrics     *telemetry.Metrics
}

func (h *MemoryHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })

	g.GET("/consent", h.getConsent)
	g.POST("/consent", h.grantConsent)
	g.DELETE("/consent", h.revokeConsent)

	g.GET("/state", h.getState)
	g.PUT("/state", h.setState)

	g.PUT("/preferences", h.setPreference)
	g.GET("/preferences/:key", h.getPreference)

	g.GET("/memory/pack", h.packPreview)
	g.POST("/memory/consolidate", h.consolidate)

	g.GET("/recommend", h.recommend)
}

func (h *MemoryHandler) getConsent(c echo.Context) error {
	rec, err := h.ConsentRead.GetConsent(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ConsentResponse{
		AllowPersonalMemory: rec.AllowPersonalMemory,
		AllowStoryStorage:   rec.AllowStoryStorage,
		AllowSensitive:      rec.AllowSensitive,
		RetentionDays:       rec.RetentionDays,
	})
}

func (h *MemoryHandler) grantConsent(c echo.Context) error {
	var req ConsentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patch := store.ConsentPatch{
		AllowPersonalMemory: req.AllowPersonalMemory,
		AllowStoryStorage:   req.AllowStoryStorage,
		AllowSensitive:      req.AllowSensitive,
		RetentionDays:       req.RetentionDays,
	}
	if err := h.Consents.Grant(c.Request().Context(), userID(c), patch); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.getConsent(c)
}

func (h *MemoryHandler) revokeConsent(c echo.Context) error {
	if err := h.Consents.Revoke(c.Request().Context(), userID(c)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *MemoryHandler) getState(c echo.Context) error {
	id := userID(c)
	meta := h.Machine.Meta(id)
	return c.JSON(http.StatusOK, StateResponse{
		State: string(h.Machine.State(id)),
		Mode:  meta.Mode,
		Topic: meta.Topic,
	})
}

func (h *MemoryHandler) setState(c echo.Context) error {
	var req StateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id := userID(c)
	target := brain.Normalize(req.State)
	prev := h.Machine.State(id)
	if !h.Machine.SetState(id, target, brain.Meta{Mode: string(target), Source: "api", Topic: req.Topic}) {
		return echo.NewHTTPError(http.StatusConflict, "transition not allowed")
	}
	if h.Metrics != nil && prev != target {
		h.Metrics.StateTransitions.WithLabelValues(string(prev), string(target)).Inc()
	}
	return h.getState(c)
}

func (h *MemoryHandler) setPreference(c echo.Context) error {
	var req PreferenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Key == "" || req.Value == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key and value are required")
	}
	if err := h.Prefs.SetPreference(c.Request().Context(), userID(c), req.Key, req.Value); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, PreferenceResponse{Key: req.Key, Value: req.Value})
}

func (h *MemoryHandler) getPreference(c echo.Context) error {
	key := c.Param("key")
	ctx := c.Request().Context()
	id := userID(c)

	value, ok, err := h.Prefs.GetPreference(ctx, id, key)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "preference not set")
	}
	history, err := h.Prefs.PreferenceHistory(ctx, id, key)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, PreferenceResponse{Key: key, Value: value, History: history})
}

func (h *MemoryHandler) packPreview(c echo.Context) error {
	text := h.Pack.Build(c.Request().Context(), userID(c), pack.Options{
		TopicHint:  c.QueryParam("topic"),
		AllowStale: c.QueryParam("stale") == "true",
	})
	return c.JSON(http.StatusOK, PackResponse{Pack: text})
}

func (h *MemoryHandler) consolidate(c echo.Context) error {
	res, err := h.Consolidate.ConsolidateUser(c.Request().Context(), userID(c))
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.ConsolidationRuns.WithLabelValues("error").Inc()
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.Metrics != nil {
		outcome := "skipped"
		if res.Consolidated {
			outcome = "ok"
		}
		h.Metrics.ConsolidationRuns.WithLabelValues(outcome).Inc()
	}
	return c.JSON(http.StatusOK, ConsolidateResponse{
		Consolidated:  res.Consolidated,
		Reason:        res.Reason,
		Scanned:       res.Scanned,
		Buckets:       res.Buckets,
		LastAttemptID: res.NewLastAttemptID,
	})
}

func (h *MemoryHandler) recommend(c echo.Context) error {
	rec, err := h.Recommend.Recommend(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rec == nil {
		return c.JSON(http.StatusOK, RecommendResponse{Found: false})
	}
	return c.JSON(http.StatusOK, RecommendResponse{
		Found:      true,
		Mode:       rec.Mode,
		Bucket:     rec.Bucket,
		ExerciseID: rec.Exercise.ID,
		Topic:      rec.Exercise.Topic,
		Type:       rec.Exercise.Type,
		Difficulty: rec.Exercise.Difficulty,
		Question:   rec.Exercise.Question,
		BandMin:    rec.Band.Min,
		BandMax:    rec.Band.Max,
	})
}
