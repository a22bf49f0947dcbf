package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corelab-ris/capsync/internal/lock"
	"github.com/corelab-ris/capsync/internal/store"
	"github.com/corelab-ris/capsync/internal/sync"
	"github.com/corelab-ris/capsync/pkg/logger"
)

// Runner executes one sync for a project.
type Runner interface {
	Run(ctx context.Context) (*sync.Report, error)
	SchemaDrift(ctx context.Context) (*sync.DriftReport, error)
}

// Locker guards against overlapping syncs of the same project.
type Locker interface {
	Acquire(ctx context.Context, name string) (*lock.Lock, error)
}

// WatermarkStore reads the last-synced timestamp for the status endpoint.
type WatermarkStore interface {
	LastBackup(ctx context.Context, projectName string) (time.Time, error)
}

// SyncHandler exposes sync triggering and status over HTTP.
type SyncHandler struct {
	newRunner  func(project string) (Runner, error)
	locker     Locker
	watermarks WatermarkStore
}

// NewSyncHandler wires the handler. newRunner resolves a project name to a
// ready-to-run sync service and fails for unknown projects (no token
// configured).
func NewSyncHandler(newRunner func(project string) (Runner, error), locker Locker, watermarks WatermarkStore) *SyncHandler {
	return &SyncHandler{newRunner: newRunner, locker: locker, watermarks: watermarks}
}

// Register mounts the sync routes.
func (h *SyncHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/sync/:project", h.TriggerSync)
	rg.GET("/sync/:project/status", h.Status)
	rg.GET("/sync/:project/drift", h.Drift)
}

// TriggerSync runs one incremental sync for the project. Returns 409 when a
// run is already in progress and 404 when no token is configured for the
// project.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	project := c.Param("project")

	runner, err := h.newRunner(project)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown project: " + project})
		return
	}

	lk, err := h.locker.Acquire(c.Request.Context(), project)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			c.JSON(http.StatusConflict, gin.H{"error": "sync already running for " + project})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer func() {
		if rerr := lk.Release(c.Request.Context()); rerr != nil {
			logger.Warnf("release sync lock for %s: %v", project, rerr)
		}
	}()

	report, err := runner.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Drift compares the mirrored variables against the project's current data
// dictionary, so renamed or deleted REDCap fields show up before anyone
// queries stale data.
func (h *SyncHandler) Drift(c *gin.Context) {
	project := c.Param("project")

	runner, err := h.newRunner(project)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown project: " + project})
		return
	}

	report, err := runner.SchemaDrift(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Status reports the project's sync watermark.
func (h *SyncHandler) Status(c *gin.Context) {
	project := c.Param("project")

	last, err := h.watermarks.LastBackup(c.Request.Context(), project)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"project": project, "synced": false})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project, "synced": true, "lastBackup": last})
}
