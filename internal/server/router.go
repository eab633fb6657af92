package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pulselog/pulselog/internal/aggregate"
	"github.com/pulselog/pulselog/internal/queue"
	"github.com/pulselog/pulselog/internal/schema"
	"github.com/pulselog/pulselog/internal/store"
	"go.uber.org/zap"
)

var (
	errMissingStore  = errors.New("store dependency required")
	errMissingEngine = errors.New("aggregate engine dependency required")
	errMissingQueue  = errors.New("queue dependency required")
)

// Dependencies carries the services the HTTP facade exposes.
type Dependencies struct {
	Store  *store.Store
	Engine *aggregate.Engine
	Queue  *queue.Queue
	Logger *zap.Logger
}

// NewHTTPHandler builds the gin router over the local store, aggregation
// engine, and offline queue.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Queue == nil {
		return nil, errMissingQueue
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:  deps.Store,
		engine: deps.Engine,
		queue:  deps.Queue,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealth)

	router.GET("/logs", handler.handleListLogs)
	router.POST("/logs", handler.handlePushLog)
	router.PATCH("/logs/:id", handler.handleUpdateLog)
	router.DELETE("/logs/:id", handler.handleRemoveLog)

	router.GET("/targets", handler.handleGetTargets)
	router.PUT("/targets", handler.handleSetTargets)

	router.GET("/settings", handler.handleGetSettings)
	router.PUT("/settings", handler.handleSetSettings)

	router.GET("/meds", handler.handleGetMeds)
	router.PUT("/meds", handler.handleSetMeds)
	router.PATCH("/meds/:id", handler.handleUpdateMed)

	router.GET("/notes", handler.handleGetNotes)
	router.PUT("/notes", handler.handleSetNotes)

	router.GET("/aggregates/day", handler.handleAggregateDay)
	router.GET("/aggregates/week", handler.handleAggregateWeek)
	router.GET("/aggregates/range", handler.handleAggregateRange)
	router.GET("/streaks", handler.handleStreaks)

	router.GET("/queue", handler.handleListQueue)
	router.POST("/queue", handler.handleEnqueue)
	router.DELETE("/queue/:id", handler.handleRemoveQueued)
	router.POST("/queue/flush", handler.handleFlushQueue)
	router.POST("/queue/online", handler.handleSetOnline)

	return router, nil
}

type httpHandler struct {
	store  *store.Store
	engine *aggregate.Engine
	queue  *queue.Queue
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "schema_version": schema.SchemaVersion})
}

func (h *httpHandler) handleListLogs(c *gin.Context) {
	filter := store.Filter{Type: c.Query("type")}

	if raw := c.Query("since"); raw != "" {
		since, ok := schema.ParseTime(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
			return
		}
		filter.Since = &since
	}
	if raw := c.Query("until"); raw != "" {
		until, ok := schema.ParseTime(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_until"})
			return
		}
		filter.Until = &until
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		filter.Limit = limit
	}

	c.JSON(http.StatusOK, gin.H{"logs": h.store.ListLogs(filter)})
}

type pushLogPayload struct {
	Type      string   `json:"type"`
	Value     *float64 `json:"value"`
	Unit      string   `json:"unit"`
	Note      string   `json:"note"`
	Source    string   `json:"source"`
	CreatedAt string   `json:"createdAt"`
}

func (h *httpHandler) handlePushLog(c *gin.Context) {
	var request pushLogPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry := h.store.PushLog(request.Type, request.Value, store.LogOptions{
		Unit:      request.Unit,
		Note:      request.Note,
		Source:    request.Source,
		CreatedAt: request.CreatedAt,
	})
	c.JSON(http.StatusCreated, entry)
}

type updateLogPayload struct {
	Type      *string  `json:"type"`
	Value     *float64 `json:"value"`
	Unit      *string  `json:"unit"`
	Note      *string  `json:"note"`
	Source    *string  `json:"source"`
	CreatedAt *string  `json:"createdAt"`
}

func (h *httpHandler) handleUpdateLog(c *gin.Context) {
	var request updateLogPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated := h.store.UpdateLog(c.Param("id"), store.LogPatch{
		Type:      request.Type,
		Value:     request.Value,
		Unit:      request.Unit,
		Note:      request.Note,
		Source:    request.Source,
		CreatedAt: request.CreatedAt,
	})
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "log_not_found"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleRemoveLog(c *gin.Context) {
	removed := h.store.RemoveLog(c.Param("id"))
	if removed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "log_not_found"})
		return
	}
	c.JSON(http.StatusOK, removed)
}

func (h *httpHandler) handleGetTargets(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Targets())
}

func (h *httpHandler) handleSetTargets(c *gin.Context) {
	var patch schema.TargetSet
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	c.JSON(http.StatusOK, h.store.SetTargets(patch))
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Settings())
}

type settingsPayload struct {
	TZ                *string  `json:"tz"`
	LastDevicePingISO *string  `json:"lastDevicePingISO"`
	BatteryPct        *float64 `json:"batteryPct"`
	City              *string  `json:"city"`
}

func (h *httpHandler) handleSetSettings(c *gin.Context) {
	var request settingsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	settings := h.store.SetSettings(schema.SettingsPatch{
		TZ:                request.TZ,
		LastDevicePingISO: request.LastDevicePingISO,
		BatteryPct:        request.BatteryPct,
		City:              request.City,
	})
	c.JSON(http.StatusOK, settings)
}

func (h *httpHandler) handleGetMeds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"meds": h.store.MedsToday()})
}

func (h *httpHandler) handleSetMeds(c *gin.Context) {
	var meds []schema.MedicationEntry
	if err := c.ShouldBindJSON(&meds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"meds": h.store.SetMedsToday(meds)})
}

type medPatchPayload struct {
	Title *string `json:"title"`
	Taken *bool   `json:"taken"`
}

func (h *httpHandler) handleUpdateMed(c *gin.Context) {
	var request medPatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	updated := h.store.UpdateMedToday(c.Param("id"), store.MedPatch{
		Title: request.Title,
		Taken: request.Taken,
	})
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "med_not_found"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleGetNotes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"text": h.store.NotesText()})
}

type notesPayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleSetNotes(c *gin.Context) {
	var request notesPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": h.store.SetNotesText(request.Text)})
}

func (h *httpHandler) handleAggregateDay(c *gin.Context) {
	date, ok := h.anchorTime(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.engine.Day(date, c.Query("tz")))
}

func (h *httpHandler) handleAggregateWeek(c *gin.Context) {
	anchor, ok := h.anchorTime(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.engine.Week(anchor, c.Query("tz")))
}

func (h *httpHandler) handleAggregateRange(c *gin.Context) {
	start, ok := schema.ParseTime(c.Query("start"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_start"})
		return
	}
	end, ok := schema.ParseTime(c.Query("end"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_end"})
		return
	}
	c.JSON(http.StatusOK, h.engine.Range(start, end))
}

func (h *httpHandler) handleStreaks(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_days"})
			return
		}
		days = parsed
	}
	aggregates := h.engine.Streaks(days)

	response := gin.H{"days": aggregates}
	if metric := c.Query("metric"); metric != "" {
		target, err := strconv.ParseFloat(c.Query("target"), 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target"})
			return
		}
		direction := aggregate.HigherIsBetter
		if strings.EqualFold(c.Query("direction"), "under") {
			direction = aggregate.LowerIsBetter
		}
		response["streak"] = aggregate.StreakLength(aggregates, metric, target, direction)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleListQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.queue.Items()})
}

type enqueuePayload struct {
	Type   string   `json:"type"`
	Value  *float64 `json:"value"`
	Unit   string   `json:"unit"`
	Note   string   `json:"note"`
	Source string   `json:"source"`
}

func (h *httpHandler) handleEnqueue(c *gin.Context) {
	var request enqueuePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	item := h.queue.Enqueue(queue.Item{
		Type:   request.Type,
		Value:  request.Value,
		Unit:   request.Unit,
		Note:   request.Note,
		Source: request.Source,
	})
	c.JSON(http.StatusAccepted, item)
}

func (h *httpHandler) handleRemoveQueued(c *gin.Context) {
	removed := h.queue.Remove(c.Param("id"))
	if removed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item_not_found"})
		return
	}
	c.JSON(http.StatusOK, removed)
}

func (h *httpHandler) handleFlushQueue(c *gin.Context) {
	h.queue.Flush()
	c.JSON(http.StatusOK, gin.H{"items": h.queue.Items()})
}

type onlinePayload struct {
	Online *bool `json:"online"`
}

func (h *httpHandler) handleSetOnline(c *gin.Context) {
	var request onlinePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Online == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.queue.SetOnline(*request.Online)
	c.JSON(http.StatusOK, gin.H{"online": *request.Online, "items": h.queue.Items()})
}

// anchorTime reads the optional date query parameter, defaulting to now.
func (h *httpHandler) anchorTime(c *gin.Context) (time.Time, bool) {
	raw := c.Query("date")
	if raw == "" {
		return time.Now(), true
	}
	date, ok := schema.ParseTime(raw)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
		return time.Time{}, false
	}
	return date, true
}
