package types

// rejection reasons reported per item by the ingestion endpoints
const (
	REJECTION_REASON_VALIDATION     = "validation"
	REJECTION_REASON_SCHEMA_VERSION = "schema-version"
)

// batch-level error reasons
const (
	ERROR_REASON_INVALID_TOKEN  = "invalid-token"
	ERROR_REASON_STUDY_INACTIVE = "study-inactive"
	ERROR_REASON_VALIDATION     = "validation"
)

type BatchIngestRequest struct {
	AccessToken string       `json:"accessToken"`
	Submissions []Submission `json:"submissions"`
}

type BatchIngestResponse struct {
	Accepted []string             `json:"accepted"`
	Rejected []RejectedSubmission `json:"rejected"`
}

type RejectedSubmission struct {
	ClientSubmissionID string `json:"clientSubmissionID"`
	Reason             string `json:"reason"`
	Detail             string `json:"detail,omitempty"`
}

type SingleIngestResponse struct {
	ClientSubmissionID string `json:"clientSubmissionID"`
	AlreadyAccepted    bool   `json:"alreadyAccepted"`
}

type StudySchemaResponse struct {
	StudyKey string       `json:"studyKey"`
	Schema   SurveySchema `json:"schema"`
}
