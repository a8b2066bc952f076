package senses

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"driftwatch/internal/engine"
	"driftwatch/internal/logging"
	"driftwatch/internal/session"
	"driftwatch/internal/types"
)

// HTTPSense is the inbound surface: the browser extension posts event batches
// and control requests here. It owns no pipeline state; everything delegates
// to the engine and the session machine.
type HTTPSense struct {
	engine  *engine.Engine
	session *session.Machine
	server  *http.Server
}

// NewHTTPSense builds the router and wires the routes
func NewHTTPSense(addr string, eng *engine.Engine, sess *session.Machine) *HTTPSense {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &HTTPSense{
		engine:  eng,
		session: sess,
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}

	router.POST("/events", h.handleIngest)
	router.POST("/events/flush", h.handleFlush)
	router.GET("/task/current", h.handleCurrentTask)
	router.POST("/task/detect", h.handleDetect)
	router.GET("/session/stats", h.handleSessionStats)
	router.GET("/scores/history", h.handleScoreHistory)
	router.POST("/task-mode/enable", h.handleTaskModeEnable)
	router.POST("/task-mode/disable", h.handleTaskModeDisable)
	router.GET("/preferences", h.handleGetPreferences)
	router.PATCH("/preferences", h.handlePatchPreferences)
	router.DELETE("/tabs/:id", h.handleCloseTab)
	router.GET("/healthz", h.handleHealth)

	return h
}

// Start serves until Shutdown. Blocks; run in a goroutine.
func (h *HTTPSense) Start() error {
	logging.Info("http", "listening on %s", h.server.Addr)
	err := h.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests
func (h *HTTPSense) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

type ingestRequest struct {
	Events []types.Event `json:"events" binding:"required"`
}

func (h *HTTPSense) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"events\": [...]}: " + err.Error()})
		return
	}

	accepted := h.engine.Ingest(req.Events)
	c.JSON(http.StatusAccepted, gin.H{
		"accepted": accepted,
		"dropped":  len(req.Events) - accepted,
		"queued":   h.engine.QueueLen(),
	})
}

func (h *HTTPSense) handleFlush(c *gin.Context) {
	h.engine.Flush()
	c.JSON(http.StatusOK, gin.H{"queued": h.engine.QueueLen()})
}

func (h *HTTPSense) handleCurrentTask(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.CurrentTask())
}

func (h *HTTPSense) handleDetect(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.DetectNow())
}

func (h *HTTPSense) handleSessionStats(c *gin.Context) {
	snap := h.session.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"focus_mode_active": snap.FocusModeActive,
		"task_type":         snap.TaskType,
		"start_time":        snap.StartTime,
		"end_time":          snap.EndTime,
		"stats":             snap.Stats,
		"domain_scores":     h.engine.DomainScores(),
	})
}

func (h *HTTPSense) handleScoreHistory(c *gin.Context) {
	rng := 24 * time.Hour
	if raw := c.Query("range"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "range must be a positive duration like 1h or 30m"})
			return
		}
		rng = parsed
	}

	entries, err := h.engine.ScoreHistory(rng)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []types.DistractionScoreEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"range": rng.String(), "entries": entries})
}

type taskModeRequest struct {
	TaskType        string `json:"task_type" binding:"required"`
	DurationMinutes int    `json:"duration_minutes"` // 0 = untimed
}

func (h *HTTPSense) handleTaskModeEnable(c *gin.Context) {
	var req taskModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_type is required: " + err.Error()})
		return
	}
	if req.DurationMinutes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_minutes must not be negative"})
		return
	}

	useTimer := req.DurationMinutes > 0
	h.session.Enable(req.TaskType, useTimer, time.Duration(req.DurationMinutes)*time.Minute)
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *HTTPSense) handleTaskModeDisable(c *gin.Context) {
	stats := h.session.Disable()
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *HTTPSense) handleGetPreferences(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Preferences())
}

func (h *HTTPSense) handlePatchPreferences(c *gin.Context) {
	var patch engine.PreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prefs, err := h.engine.UpdatePreferences(patch)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (h *HTTPSense) handleCloseTab(c *gin.Context) {
	tabID := c.Param("id")
	if tabID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tab id is required"})
		return
	}
	h.engine.CloseTab(tabID)
	c.Status(http.StatusNoContent)
}

func (h *HTTPSense) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"queue_depth": h.engine.QueueLen(),
		"task_mode":   h.session.Active(),
	})
}
