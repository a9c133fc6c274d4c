package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emirbensusan/lotastro-sync/internal/metrics"
	"github.com/emirbensusan/lotastro-sync/internal/netstatus"
	"github.com/emirbensusan/lotastro-sync/internal/store"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

type handler struct {
	queue     *sync.QueueManager
	scheduler *sync.Scheduler
	network   NetworkView
	writer    *sync.Writer
	store     *store.Store
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Network     netstatus.Status `json:"network"`
	Queue       sync.QueueStats  `json:"queue"`
	Processing  bool             `json:"processing"`
	SyncEnabled bool             `json:"syncEnabled"`
	LastResult  *sync.SyncResult `json:"lastResult,omitempty"`
	LastPassAt  *time.Time       `json:"lastPassAt,omitempty"`
	PausedUntil *time.Time       `json:"pausedUntil,omitempty"`
}

type resolveRequest struct {
	Resolution string       `json:"resolution" binding:"required"`
	Data       store.Record `json:"data"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
	// ResumeAfter, with enabled=false, re-enables sync after this Go
	// duration.
	ResumeAfter string `json:"resumeAfter,omitempty"`
}

type submitResponse struct {
	Queued     bool         `json:"queued"`
	MutationID string       `json:"mutationId,omitempty"`
	ServerData store.Record `json:"serverData,omitempty"`
}

type conflictBody struct {
	Error      string       `json:"error"`
	Fields     []string     `json:"fields"`
	ServerData store.Record `json:"serverData"`
}

func (h *handler) status(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := StatusResponse{
		Network:     h.network.Current(),
		Queue:       stats,
		Processing:  h.queue.IsProcessing(),
		SyncEnabled: h.scheduler.Enabled(),
	}

	if res, at := h.scheduler.LastResult(); !at.IsZero() {
		resp.LastResult = &res
		resp.LastPassAt = &at
	}

	if until := h.scheduler.ResumeAt(); !until.IsZero() {
		resp.PausedUntil = &until
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) listQueue(c *gin.Context) {
	all, err := h.queue.ListAll(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	want := store.MutationStatus(c.Query("status"))
	if want == "" {
		c.JSON(http.StatusOK, all)
		return
	}

	out := make([]store.QueuedMutation, 0, len(all))

	for _, m := range all {
		if m.Status == want {
			out = append(out, m)
		}
	}

	c.JSON(http.StatusOK, out)
}

func (h *handler) submit(c *gin.Context) {
	var in sync.MutationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	ctx := c.Request.Context()

	if h.writer != nil {
		res, err := h.writer.Write(ctx, in)
		if err != nil {
			h.writeError(c, err)
			return
		}

		code := http.StatusOK
		if res.Queued {
			code = http.StatusAccepted
		}

		c.JSON(code, submitResponse{Queued: res.Queued, MutationID: res.MutationID, ServerData: res.ServerData})

		return
	}

	id, err := h.queue.QueueMutation(ctx, in)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, submitResponse{Queued: true, MutationID: id})
}

func (h *handler) clearQueue(c *gin.Context) {
	n, err := h.queue.ClearQueue(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (h *handler) removeMutation(c *gin.Context) {
	removed, err := h.queue.RemoveMutation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *handler) retryMutation(c *gin.Context) {
	if err := h.queue.RetryMutation(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *handler) retryFailed(c *gin.Context) {
	n, err := h.queue.RetryFailed(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requeued": n})
}

func (h *handler) listConflicts(c *gin.Context) {
	conflicts, err := h.queue.GetConflicts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, conflicts)
}

func (h *handler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	res, err := sync.ParseResolution(req.Resolution)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.queue.ResolveConflict(c.Request.Context(), c.Param("id"), res, req.Data); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *handler) forceSync(c *gin.Context) {
	res, err := h.scheduler.ForceSync(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (h *handler) setEnabled(c *gin.Context) {
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	if req.ResumeAfter == "" {
		h.scheduler.SetEnabled(*req.Enabled)
		c.JSON(http.StatusOK, gin.H{"enabled": h.scheduler.Enabled()})

		return
	}

	d, err := time.ParseDuration(req.ResumeAfter)
	if err != nil || d <= 0 || *req.Enabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resumeAfter needs enabled=false and a positive duration"})
		return
	}

	until := h.scheduler.PauseFor(d)
	c.JSON(http.StatusOK, gin.H{"enabled": false, "pausedUntil": until})
}

func (h *handler) listRecords(c *gin.Context) {
	recs, err := h.store.GetAll(c.Request.Context(), c.Param("table"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, recs)
}

func (h *handler) metricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func (h *handler) writeError(c *gin.Context, err error) {
	var conflict *sync.ConflictError

	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, conflictBody{Error: "conflict", Fields: conflict.Fields, ServerData: conflict.ServerData})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sync.ErrOffline):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, sync.ErrNotConflict),
		errors.Is(err, sync.ErrNotFailed),
		errors.Is(err, sync.ErrAlreadyProcessing):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, sync.ErrInvalidMutation),
		errors.Is(err, sync.ErrBaselineRequired),
		errors.Is(err, store.ErrUnknownCollection),
		errors.Is(err, store.ErrMissingKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Warn("api request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
