package study

import (
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	studyDB "github.com/AppleJax2/OncoTracker-sub000/pkg/db/study"
	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
)

var (
	studyDBService *studyDB.StudyDBService
)

var (
	// ErrInvalidAccessToken - token unknown or revoked; batch-level, nothing persisted
	ErrInvalidAccessToken = errors.New("invalid study access token")
	// ErrStudyInactive - token resolves to a study that is not accepting submissions
	ErrStudyInactive = errors.New("study is not active")
)

func Init(studyDB *studyDB.StudyDBService) {
	studyDBService = studyDB
}

// ResolveAccessToken maps an opaque access token to its active study.
func ResolveAccessToken(instanceID string, token string) (studyTypes.Study, error) {
	if token == "" {
		return studyTypes.Study{}, ErrInvalidAccessToken
	}

	study, err := studyDBService.GetStudyByAccessToken(instanceID, token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return studyTypes.Study{}, ErrInvalidAccessToken
		}
		return studyTypes.Study{}, err
	}

	if !study.HasActiveToken(token) {
		return studyTypes.Study{}, ErrInvalidAccessToken
	}

	if study.Status != studyTypes.STUDY_STATUS_ACTIVE {
		return studyTypes.Study{}, ErrStudyInactive
	}

	return study, nil
}

// IngestSubmission validates and persists a single submission for an already
// resolved study. The server receipt timestamp is assigned here; the client's
// capturedAt is left untouched. Duplicate clientSubmissionIDs report
// alreadyAccepted instead of failing.
func IngestSubmission(instanceID string, study studyTypes.Study, submission studyTypes.Submission) (alreadyAccepted bool, err error) {
	if err := ValidateSubmission(study, submission); err != nil {
		return false, err
	}

	submission.StudyKey = study.Key
	submission.StudyAccessToken = ""
	submission.ArrivedAt = time.Now().Unix()

	_, err = studyDBService.SaveSubmission(instanceID, study.Key, submission)
	if err != nil {
		if errors.Is(err, studyDB.ErrDuplicateSubmission) {
			slog.Debug("duplicate submission treated as accepted", slog.String("clientSubmissionID", submission.ClientSubmissionID), slog.String("studyKey", study.Key))
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// IngestBatch processes a batch of submissions for one access token and
// reports a per-item outcome. Item-level validation failures never fail the
// batch; only token-level failures (handled by the caller via
// ResolveAccessToken) are fatal to the whole batch.
func IngestBatch(instanceID string, study studyTypes.Study, submissions []studyTypes.Submission) studyTypes.BatchIngestResponse {
	resp := studyTypes.BatchIngestResponse{
		Accepted: []string{},
		Rejected: []studyTypes.RejectedSubmission{},
	}

	for _, submission := range submissions {
		_, err := IngestSubmission(instanceID, study, submission)
		if err != nil {
			var validationErr ValidationError
			if errors.As(err, &validationErr) {
				reason := studyTypes.REJECTION_REASON_VALIDATION
				if submission.SchemaVersion != "" && submission.SchemaVersion != study.Schema.Version {
					// the client built this item against an older schema
					reason = studyTypes.REJECTION_REASON_SCHEMA_VERSION
				}
				resp.Rejected = append(resp.Rejected, studyTypes.RejectedSubmission{
					ClientSubmissionID: submission.ClientSubmissionID,
					Reason:             reason,
					Detail:             validationErr.Error(),
				})
				continue
			}

			slog.Error("error persisting submission", slog.String("clientSubmissionID", submission.ClientSubmissionID), slog.String("studyKey", study.Key), slog.String("error", err.Error()))
			resp.Rejected = append(resp.Rejected, studyTypes.RejectedSubmission{
				ClientSubmissionID: submission.ClientSubmissionID,
				Reason:             "internal",
				Detail:             "could not persist submission",
			})
			continue
		}

		resp.Accepted = append(resp.Accepted, submission.ClientSubmissionID)
	}

	return resp
}
