package apihandlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	mw "github.com/AppleJax2/OncoTracker-sub000/pkg/apihelpers/middlewares"
	httpclient "github.com/AppleJax2/OncoTracker-sub000/pkg/http-client"
	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/sync/syncer"
)

func HealthCheckHandle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type HttpEndpoints struct {
	syncService        *syncer.Syncer
	ingestionAPIClient *httpclient.IngestionAPIClient

	// defaultAccessToken is stamped onto captures that do not carry their own
	// study access token
	defaultAccessToken string
}

func NewHTTPHandler(
	syncService *syncer.Syncer,
	ingestionAPIClient *httpclient.IngestionAPIClient,
	defaultAccessToken string,
) *HttpEndpoints {
	return &HttpEndpoints{
		syncService:        syncService,
		ingestionAPIClient: ingestionAPIClient,
		defaultAccessToken: defaultAccessToken,
	}
}

func (h *HttpEndpoints) AddSyncAgentAPI(rg *gin.RouterGroup) {
	rg.POST("/capture", mw.RequirePayload(), h.captureSubmission)
	rg.POST("/sync-now", h.syncNow)
	rg.GET("/status", h.getStatus)
	rg.GET("/study-schema", h.getStudySchema)
}

// captureSubmission accepts one observation from the capture UI. It responds
// as soon as the submission is either confirmed by the ingestion API or
// durably queued; the caller never waits out a retry loop.
func (h *HttpEndpoints) captureSubmission(c *gin.Context) {
	var submission studyTypes.Submission
	if err := c.ShouldBindJSON(&submission); err != nil {
		slog.Error("error parsing capture payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse submission"})
		return
	}

	if submission.StudyAccessToken == "" {
		submission.StudyAccessToken = h.defaultAccessToken
	}

	entry, queued, err := h.syncService.Capture(c.Request.Context(), submission)
	if err != nil {
		switch {
		case errors.Is(err, httpclient.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": studyTypes.ERROR_REASON_VALIDATION})
		case errors.Is(err, httpclient.ErrInvalidToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "reason": studyTypes.ERROR_REASON_INVALID_TOKEN})
		case errors.Is(err, httpclient.ErrStudyInactive):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": studyTypes.ERROR_REASON_STUDY_INACTIVE})
		default:
			slog.Error("error capturing submission", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not capture submission"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"clientSubmissionID": entry.Submission.ClientSubmissionID,
		"queued":             queued,
	})
}

// syncNow triggers a user-initiated drain and reports its outcome.
func (h *HttpEndpoints) syncNow(c *gin.Context) {
	result, err := h.syncService.SyncNow(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, syncer.ErrOffline):
			c.JSON(http.StatusConflict, gin.H{"error": "not online"})
		case errors.Is(err, syncer.ErrDrainInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "a sync is already running"})
		default:
			slog.Error("error running sync", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *HttpEndpoints) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.syncService.Status())
}

// getStudySchema fetches the current symptom and question catalog from the
// ingestion API, so the capture UI can render the right form.
func (h *HttpEndpoints) getStudySchema(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = h.defaultAccessToken
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	schema, err := h.ingestionAPIClient.FetchSchema(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, httpclient.ErrInvalidToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "reason": studyTypes.ERROR_REASON_INVALID_TOKEN})
		case errors.Is(err, httpclient.ErrStudyInactive):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": studyTypes.ERROR_REASON_STUDY_INACTIVE})
		default:
			slog.Error("error fetching schema", slog.String("error", err.Error()))
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not fetch study schema"})
		}
		return
	}

	c.JSON(http.StatusOK, schema)
}
