package types

import "go.mongodb.org/mongo-driver/bson/primitive"

type Submission struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`

	// ClientSubmissionID is assigned once at capture time and never changes,
	// so retried deliveries of the same observation stay idempotent.
	ClientSubmissionID string `bson:"clientSubmissionID" json:"clientSubmissionID"`

	// StudyAccessToken travels on the wire but is resolved to a study key
	// before persistence; the raw token is not stored with the record.
	StudyAccessToken string `bson:"-" json:"studyAccessToken,omitempty"`
	StudyKey         string `bson:"studyKey" json:"studyKey,omitempty"`

	SchemaVersion   string           `bson:"schemaVersion" json:"schemaVersion"`
	SymptomReadings []SymptomReading `bson:"symptomReadings" json:"symptomReadings"`
	CustomResponses []CustomResponse `bson:"customResponses" json:"customResponses"`
	SubmittedBy     SubmittedBy      `bson:"submittedBy" json:"submittedBy"`

	// CapturedAt is the client-side observation timestamp. It is authoritative
	// for offline items and must not be overwritten by server receipt time.
	CapturedAt int64 `bson:"capturedAt" json:"capturedAt"`
	// ArrivedAt is the server-assigned receipt timestamp.
	ArrivedAt int64 `bson:"arrivedAt" json:"arrivedAt,omitempty"`

	DeviceContext *DeviceContext `bson:"deviceContext,omitempty" json:"deviceContext,omitempty"`
	LocationHint  string         `bson:"locationHint,omitempty" json:"locationHint,omitempty"`
}

type SymptomReading struct {
	SymptomKey string `bson:"symptomKey" json:"symptomKey"`
	Rating     int    `bson:"rating" json:"rating"`
	Note       string `bson:"note,omitempty" json:"note,omitempty"`
}

type CustomResponse struct {
	QuestionKey string      `bson:"questionKey" json:"questionKey"`
	Value       interface{} `bson:"value" json:"value"`
}

type SubmittedBy struct {
	DisplayName string `bson:"displayName,omitempty" json:"displayName,omitempty"`
	Role        string `bson:"role" json:"role"`
}

type DeviceContext struct {
	Platform   string `bson:"platform,omitempty" json:"platform,omitempty"`
	AppVersion string `bson:"appVersion,omitempty" json:"appVersion,omitempty"`
	Locale     string `bson:"locale,omitempty" json:"locale,omitempty"`
}
