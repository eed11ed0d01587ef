package types

const (
	STUDY_STATUS_ACTIVE   = "active"
	STUDY_STATUS_INACTIVE = "inactive"
)

// response types a custom question can declare
const (
	RESPONSE_TYPE_TEXT    = "text"
	RESPONSE_TYPE_NUMBER  = "number"
	RESPONSE_TYPE_BOOLEAN = "boolean"
	RESPONSE_TYPE_SCALE   = "scale"
)

type Study struct {
	ID           string        `bson:"_id,omitempty" json:"id,omitempty"`
	Key          string        `bson:"key" json:"key"`
	Status       string        `bson:"status" json:"status"`
	Props        StudyProps    `bson:"props" json:"props"`
	Schema       SurveySchema  `bson:"schema" json:"schema"`
	AccessTokens []AccessToken `bson:"accessTokens" json:"accessTokens"`
	CreatedAt    int64         `bson:"createdAt" json:"createdAt"`
}

type StudyProps struct {
	Name           string `bson:"name" json:"name"`
	Species        string `bson:"species" json:"species"`
	ConditionFocus string `bson:"conditionFocus" json:"conditionFocus"`
}

// SurveySchema is the symptom/question catalog submissions are validated against.
type SurveySchema struct {
	Version         string              `bson:"version" json:"version"`
	Symptoms        []SymptomDefinition `bson:"symptoms" json:"symptoms"`
	CustomQuestions []CustomQuestion    `bson:"customQuestions" json:"customQuestions"`
}

type SymptomDefinition struct {
	Key       string `bson:"key" json:"key"`
	Label     string `bson:"label" json:"label"`
	MinRating int    `bson:"minRating" json:"minRating"`
	MaxRating int    `bson:"maxRating" json:"maxRating"`
}

type CustomQuestion struct {
	Key          string `bson:"key" json:"key"`
	Label        string `bson:"label" json:"label"`
	ResponseType string `bson:"responseType" json:"responseType"`

	// bounds for scale questions
	ScaleMin int `bson:"scaleMin,omitempty" json:"scaleMin,omitempty"`
	ScaleMax int `bson:"scaleMax,omitempty" json:"scaleMax,omitempty"`
}

// AccessToken is an opaque bearer capability scoping submissions to a study.
// It is not a user credential.
type AccessToken struct {
	Token     string `bson:"token" json:"token"`
	Label     string `bson:"label" json:"label"`
	Active    bool   `bson:"active" json:"active"`
	CreatedAt int64  `bson:"createdAt" json:"createdAt"`
}

func (s Study) SymptomDefinition(symptomKey string) (SymptomDefinition, bool) {
	for _, def := range s.Schema.Symptoms {
		if def.Key == symptomKey {
			return def, true
		}
	}
	return SymptomDefinition{}, false
}

func (s Study) CustomQuestion(questionKey string) (CustomQuestion, bool) {
	for _, q := range s.Schema.CustomQuestions {
		if q.Key == questionKey {
			return q, true
		}
	}
	return CustomQuestion{}, false
}

func (s Study) HasActiveToken(token string) bool {
	for _, t := range s.AccessTokens {
		if t.Token == token && t.Active {
			return true
		}
	}
	return false
}
