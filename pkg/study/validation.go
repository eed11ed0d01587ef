package study

import (
	"encoding/json"
	"fmt"

	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
)

// ValidationError marks a submission as permanently rejected - retrying the
// same payload cannot succeed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid submission: %s (%s)", e.Reason, e.Field)
}

// ValidateSubmission checks a submission against the study's current schema.
// Every returned error is a ValidationError (item-level, non-retryable).
func ValidateSubmission(study studyTypes.Study, submission studyTypes.Submission) error {
	if submission.ClientSubmissionID == "" {
		return ValidationError{Field: "clientSubmissionID", Reason: "missing client submission ID"}
	}

	if submission.CapturedAt <= 0 {
		return ValidationError{Field: "capturedAt", Reason: "missing capture timestamp"}
	}

	if len(submission.SymptomReadings) == 0 && len(submission.CustomResponses) == 0 {
		return ValidationError{Field: "symptomReadings", Reason: "submission contains no readings or responses"}
	}

	if submission.SubmittedBy.Role == "" {
		return ValidationError{Field: "submittedBy.role", Reason: "missing submitter role"}
	}

	for _, reading := range submission.SymptomReadings {
		def, ok := study.SymptomDefinition(reading.SymptomKey)
		if !ok {
			return ValidationError{Field: "symptomReadings", Reason: fmt.Sprintf("unknown symptom key '%s'", reading.SymptomKey)}
		}
		if reading.Rating < def.MinRating || reading.Rating > def.MaxRating {
			return ValidationError{
				Field:  "symptomReadings",
				Reason: fmt.Sprintf("rating %d for '%s' outside declared bounds [%d, %d]", reading.Rating, reading.SymptomKey, def.MinRating, def.MaxRating),
			}
		}
	}

	for _, response := range submission.CustomResponses {
		question, ok := study.CustomQuestion(response.QuestionKey)
		if !ok {
			return ValidationError{Field: "customResponses", Reason: fmt.Sprintf("unknown question key '%s'", response.QuestionKey)}
		}
		if err := validateResponseValue(question, response.Value); err != nil {
			return err
		}
	}

	return nil
}

func validateResponseValue(question studyTypes.CustomQuestion, value interface{}) error {
	switch question.ResponseType {
	case studyTypes.RESPONSE_TYPE_TEXT:
		if _, ok := value.(string); !ok {
			return typeMismatch(question, "string")
		}
	case studyTypes.RESPONSE_TYPE_NUMBER:
		if _, ok := numericValue(value); !ok {
			return typeMismatch(question, "number")
		}
	case studyTypes.RESPONSE_TYPE_BOOLEAN:
		if _, ok := value.(bool); !ok {
			return typeMismatch(question, "boolean")
		}
	case studyTypes.RESPONSE_TYPE_SCALE:
		num, ok := numericValue(value)
		if !ok {
			return typeMismatch(question, "number")
		}
		if num < float64(question.ScaleMin) || num > float64(question.ScaleMax) {
			return ValidationError{
				Field:  "customResponses",
				Reason: fmt.Sprintf("value %v for '%s' outside scale bounds [%d, %d]", value, question.Key, question.ScaleMin, question.ScaleMax),
			}
		}
	default:
		return ValidationError{
			Field:  "customResponses",
			Reason: fmt.Sprintf("question '%s' has unsupported response type '%s'", question.Key, question.ResponseType),
		}
	}
	return nil
}

func typeMismatch(question studyTypes.CustomQuestion, expected string) error {
	return ValidationError{
		Field:  "customResponses",
		Reason: fmt.Sprintf("value for '%s' must be a %s (%s question)", question.Key, expected, question.ResponseType),
	}
}

// numericValue accepts the numeric representations a value can arrive in,
// depending on whether it was decoded from JSON or constructed in process.
func numericValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
