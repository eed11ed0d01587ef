package study

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AppleJax2/OncoTracker-sub000/pkg/db"
	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
)

// ErrDuplicateSubmission is returned when a clientSubmissionID was already
// persisted for the study. Callers treat this as "already accepted".
var ErrDuplicateSubmission = errors.New("submission with this clientSubmissionID already exists")

func (dbService *StudyDBService) CreateIndexForSubmissionsCollection(instanceID string, studyKey string) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	collection := dbService.collectionSubmissions(instanceID, studyKey)
	indexes := []mongo.IndexModel{
		{
			// uniqueness backstop for idempotent replay
			Keys: bson.D{
				{Key: "clientSubmissionID", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "capturedAt", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "arrivedAt", Value: 1},
			},
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// SaveSubmission persists one submission. Safe under concurrent duplicate
// delivery: the unique index on clientSubmissionID turns a replay into
// ErrDuplicateSubmission instead of a second record.
func (dbService *StudyDBService) SaveSubmission(instanceID string, studyKey string, submission studyTypes.Submission) (studyTypes.Submission, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	ret, err := dbService.collectionSubmissions(instanceID, studyKey).InsertOne(ctx, submission)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return submission, ErrDuplicateSubmission
		}
		return submission, err
	}
	submission.ID = ret.InsertedID.(primitive.ObjectID)
	return submission, nil
}

// get submission by its client assigned id
func (dbService *StudyDBService) GetSubmissionByClientID(instanceID string, studyKey string, clientSubmissionID string) (submission studyTypes.Submission, err error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	filter := bson.M{
		"clientSubmissionID": clientSubmissionID,
	}

	err = dbService.collectionSubmissions(instanceID, studyKey).FindOne(ctx, filter).Decode(&submission)
	return submission, err
}

// get paginated submissions by query
func (dbService *StudyDBService) GetSubmissions(instanceID string, studyKey string, filter bson.M, sort bson.M, page int64, limit int64) (submissions []studyTypes.Submission, paginationInfo *PaginationInfos, err error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	totalCount, err := dbService.GetSubmissionsCount(instanceID, studyKey, filter)
	if err != nil {
		return submissions, nil, err
	}

	paginationInfo = prepPaginationInfos(
		totalCount,
		page,
		limit,
	)

	skip := (paginationInfo.CurrentPage - 1) * paginationInfo.PageSize

	opts := options.Find().SetSort(sort).SetSkip(skip).SetLimit(paginationInfo.PageSize)
	collection := dbService.collectionSubmissions(instanceID, studyKey)
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return submissions, nil, err
	}
	defer cursor.Close(ctx)

	err = cursor.All(ctx, &submissions)
	if err != nil {
		return submissions, nil, err
	}

	return submissions, paginationInfo, nil
}

// ListSubmissionIndexes reports the indexes on a study's submissions
// collection, used by the seeding job to verify the uniqueness constraint on
// clientSubmissionID is in place.
func (dbService *StudyDBService) ListSubmissionIndexes(instanceID string, studyKey string) ([]bson.M, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	return db.ListCollectionIndexes(ctx, dbService.collectionSubmissions(instanceID, studyKey))
}

// get submissions count by query
func (dbService *StudyDBService) GetSubmissionsCount(instanceID string, studyKey string, filter bson.M) (int64, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	return dbService.collectionSubmissions(instanceID, studyKey).CountDocuments(ctx, filter)
}
