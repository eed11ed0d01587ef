package study

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
)

func (dbService *StudyDBService) CreateIndexForStudyInfosCollection(instanceID string) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	collection := dbService.collectionStudyInfos(instanceID)
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "key", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "accessTokens.token", Value: 1},
			},
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// get studies, optionally filtered by status
func (dbService *StudyDBService) GetStudies(instanceID string, statusFilter string) (studies []studyTypes.Study, err error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	collection := dbService.collectionStudyInfos(instanceID)
	filter := bson.M{}
	if statusFilter != "" {
		filter["status"] = statusFilter
	}
	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	err = cursor.All(ctx, &studies)
	if err != nil {
		return nil, err
	}

	return studies, nil
}

// get study by key
func (dbService *StudyDBService) GetStudyByKey(instanceID string, studyKey string) (study studyTypes.Study, err error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	filter := bson.M{
		"key": studyKey,
	}

	err = dbService.collectionStudyInfos(instanceID).FindOne(ctx, filter).Decode(&study)
	return study, err
}

// get the study a given access token belongs to
func (dbService *StudyDBService) GetStudyByAccessToken(instanceID string, token string) (study studyTypes.Study, err error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	filter := bson.M{
		"accessTokens.token": token,
	}

	err = dbService.collectionStudyInfos(instanceID).FindOne(ctx, filter).Decode(&study)
	return study, err
}

func (dbService *StudyDBService) CreateStudy(instanceID string, study studyTypes.Study) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	collection := dbService.collectionStudyInfos(instanceID)
	_, err := collection.InsertOne(ctx, study)
	if err != nil {
		return err
	}

	return dbService.CreateIndexForSubmissionsCollection(instanceID, study.Key)
}

// upsert study by key, used by the seeding job
func (dbService *StudyDBService) UpsertStudy(instanceID string, study studyTypes.Study) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	filter := bson.M{
		"key": study.Key,
	}
	update := bson.M{
		"$set": bson.M{
			"status":       study.Status,
			"props":        study.Props,
			"schema":       study.Schema,
			"accessTokens": study.AccessTokens,
		},
		"$setOnInsert": bson.M{
			"key":       study.Key,
			"createdAt": study.CreatedAt,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := dbService.collectionStudyInfos(instanceID).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return err
	}

	return dbService.CreateIndexForSubmissionsCollection(instanceID, study.Key)
}
