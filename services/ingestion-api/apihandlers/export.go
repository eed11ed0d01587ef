package apihandlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AppleJax2/OncoTracker-sub000/pkg/apihelpers"
	mw "github.com/AppleJax2/OncoTracker-sub000/pkg/apihelpers/middlewares"
)

// AddExportAPI registers the researcher-facing endpoints. These are protected
// by API keys, not study access tokens.
func (h *HttpEndpoints) AddExportAPI(rg *gin.RouterGroup) {
	studiesGroup := rg.Group("/studies")
	studiesGroup.Use(mw.HasValidAPIKey(h.exportAPIKeys))
	{
		studiesGroup.GET("", h.getStudies)
		studiesGroup.GET("/:studyKey", h.getStudy)
		studiesGroup.GET("/:studyKey/submissions", h.getStudySubmissions)
	}
}

func (h *HttpEndpoints) getStudies(c *gin.Context) {
	instanceID, ok := h.resolveInstanceID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance not allowed"})
		return
	}

	studies, err := h.studyDBConn.GetStudies(instanceID, c.DefaultQuery("status", ""))
	if err != nil {
		slog.Error("error fetching studies", slog.String("instanceID", instanceID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch studies"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"studies": studies})
}

func (h *HttpEndpoints) getStudy(c *gin.Context) {
	instanceID, ok := h.resolveInstanceID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance not allowed"})
		return
	}

	studyKey := c.Param("studyKey")
	study, err := h.studyDBConn.GetStudyByKey(instanceID, studyKey)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
			return
		}
		slog.Error("error fetching study", slog.String("studyKey", studyKey), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch study"})
		return
	}

	c.JSON(http.StatusOK, study)
}

func (h *HttpEndpoints) getStudySubmissions(c *gin.Context) {
	instanceID, ok := h.resolveInstanceID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance not allowed"})
		return
	}

	studyKey := c.Param("studyKey")

	query, err := apihelpers.ParsePaginatedQueryFromCtx(c)
	if err != nil {
		slog.Error("error parsing query", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse query"})
		return
	}

	submissions, paginationInfo, err := h.studyDBConn.GetSubmissions(
		instanceID,
		studyKey,
		query.Filter,
		query.Sort,
		query.Page,
		query.Limit,
	)
	if err != nil {
		slog.Error("error fetching submissions", slog.String("studyKey", studyKey), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch submissions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submissions": submissions,
		"pagination":  paginationInfo,
	})
}
