package apihandlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	studyDB "github.com/AppleJax2/OncoTracker-sub000/pkg/db/study"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/utils"
)

const (
	INSTANCE_ID_HEADER = "Instance-Id"
)

func HealthCheckHandle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type HttpEndpoints struct {
	studyDBConn        *studyDB.StudyDBService
	allowedInstanceIDs []string
	exportAPIKeys      []string
}

func NewHTTPHandler(
	studyDBConn *studyDB.StudyDBService,
	allowedInstanceIDs []string,
	exportAPIKeys []string,
) *HttpEndpoints {
	return &HttpEndpoints{
		studyDBConn:        studyDBConn,
		allowedInstanceIDs: allowedInstanceIDs,
		exportAPIKeys:      exportAPIKeys,
	}
}

// resolveInstanceID reads the instance from the request header, falling back
// to the first allowed instance when the header is absent. An instance
// outside the allowlist is rejected.
func (h *HttpEndpoints) resolveInstanceID(c *gin.Context) (string, bool) {
	instanceID := c.GetHeader(INSTANCE_ID_HEADER)
	if instanceID == "" {
		if len(h.allowedInstanceIDs) < 1 {
			return "", false
		}
		return h.allowedInstanceIDs[0], true
	}

	if !utils.ContainsString(h.allowedInstanceIDs, instanceID) {
		return "", false
	}
	return instanceID, true
}
