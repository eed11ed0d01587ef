package apihandlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	mw "github.com/AppleJax2/OncoTracker-sub000/pkg/apihelpers/middlewares"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/study"
	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
)

func (h *HttpEndpoints) AddIngestionAPI(rg *gin.RouterGroup) {
	ingestGroup := rg.Group("/ingest")
	{
		ingestGroup.POST("/submission", mw.RequirePayload(), h.ingestSingleSubmission)
		ingestGroup.POST("/batch", mw.RequirePayload(), h.ingestSubmissionBatch)
	}
	rg.GET("/study-schema", h.getStudySchema)
}

// ingestSingleSubmission is the immediate delivery path used while the
// capture client is online. Duplicate clientSubmissionIDs are reported as
// already accepted, never as an error.
func (h *HttpEndpoints) ingestSingleSubmission(c *gin.Context) {
	instanceID, ok := h.resolveInstanceID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance not allowed"})
		return
	}

	var submission studyTypes.Submission
	if err := c.ShouldBindJSON(&submission); err != nil {
		slog.Error("error parsing submission payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse submission"})
		return
	}

	resolvedStudy, ok := h.resolveToken(c, instanceID, submission.StudyAccessToken)
	if !ok {
		return
	}

	alreadyAccepted, err := study.IngestSubmission(instanceID, resolvedStudy, submission)
	if err != nil {
		var validationErr study.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  validationErr.Error(),
				"reason": studyTypes.ERROR_REASON_VALIDATION,
			})
			return
		}

		slog.Error("error persisting submission", slog.String("clientSubmissionID", submission.ClientSubmissionID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist submission"})
		return
	}

	c.JSON(http.StatusOK, studyTypes.SingleIngestResponse{
		ClientSubmissionID: submission.ClientSubmissionID,
		AlreadyAccepted:    alreadyAccepted,
	})
}

// ingestSubmissionBatch is the sync drain path. Only token level failures
// fail the whole batch; everything else is reported per item so one bad
// submission cannot block its batch mates.
func (h *HttpEndpoints) ingestSubmissionBatch(c *gin.Context) {
	instanceID, ok := h.resolveInstanceID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance not allowed"})
		return
	}

	var req studyTypes.BatchIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("error parsing batch payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse batch"})
		return
	}

	resolvedStudy, ok := h.resolveToken(c, instanceID, req.AccessToken)
	if !ok {
		return
	}

	resp := study.IngestBatch(instanceID, resolvedStudy, req.Submissions)
	slog.Info("batch ingested",
		slog.String("instanceID", instanceID),
		slog.String("studyKey", resolvedStudy.Key),
		slog.Int("accepted", len(resp.Accepted)),
		slog.Int("rejected", len(resp.Rejected)))

	c.JSON(http.StatusOK, resp)
}

// getStudySchema returns the symptom and question catalog for the study the
// bearer token belongs to.
func (h *HttpEndpoints) getStudySchema(c *gin.Context) {
	instanceID, ok := h.resolveInstanceID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance not allowed"})
		return
	}

	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")

	resolvedStudy, ok := h.resolveToken(c, instanceID, token)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, studyTypes.StudySchemaResponse{
		StudyKey: resolvedStudy.Key,
		Schema:   resolvedStudy.Schema,
	})
}

// resolveToken maps the access token to its study and writes the error
// response on failure. Invalid tokens and inactive studies carry a machine
// readable reason so the sync client can classify without string matching.
func (h *HttpEndpoints) resolveToken(c *gin.Context, instanceID string, token string) (studyTypes.Study, bool) {
	resolvedStudy, err := study.ResolveAccessToken(instanceID, token)
	if err != nil {
		switch {
		case errors.Is(err, study.ErrInvalidAccessToken):
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":  "study access token rejected",
				"reason": studyTypes.ERROR_REASON_INVALID_TOKEN,
			})
		case errors.Is(err, study.ErrStudyInactive):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "study is not accepting submissions",
				"reason": studyTypes.ERROR_REASON_STUDY_INACTIVE,
			})
		default:
			slog.Error("error resolving access token", slog.String("instanceID", instanceID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve access token"})
		}
		return studyTypes.Study{}, false
	}
	return resolvedStudy, true
}
