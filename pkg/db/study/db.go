package study

import (
	"context"
	"log/slog"
	"time"

	"github.com/AppleJax2/OncoTracker-sub000/pkg/db"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// collection names
const (
	COLLECTION_NAME_STUDY_INFOS        = "study-infos"
	COLLECTION_NAME_SUFFIX_SUBMISSIONS = "submissions"
)

type StudyDBService struct {
	DBClient     *mongo.Client
	timeout      int
	DBNamePrefix string
	InstanceIDs  []string
}

func NewStudyDBService(configs db.DBConfig) (*StudyDBService, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(configs.Timeout)*time.Second)
	defer cancel()

	dbClient, err := mongo.Connect(ctx,
		options.Client().ApplyURI(configs.URI),
		options.Client().SetMaxConnIdleTime(time.Duration(configs.IdleConnTimeout)*time.Second),
		options.Client().SetMaxPoolSize(configs.MaxPoolSize),
	)

	if err != nil {
		return nil, err
	}

	ctx, conCancel := context.WithTimeout(context.Background(), time.Duration(configs.Timeout)*time.Second)
	err = dbClient.Ping(ctx, nil)
	defer conCancel()

	if err != nil {
		return nil, err
	}

	studyDBSc := &StudyDBService{
		DBClient:     dbClient,
		timeout:      configs.Timeout,
		DBNamePrefix: configs.DBNamePrefix,
		InstanceIDs:  configs.InstanceIDs,
	}

	if configs.RunIndexCreation {
		if err := studyDBSc.ensureIndexes(); err != nil {
			slog.Error("Error ensuring indexes for study DB", slog.String("error", err.Error()))
		}
	}

	return studyDBSc, nil
}

func (dbService *StudyDBService) getDBName(instanceID string) string {
	return dbService.DBNamePrefix + instanceID + "_studyDB"
}

func (dbService *StudyDBService) collectionStudyInfos(instanceID string) *mongo.Collection {
	return dbService.DBClient.Database(dbService.getDBName(instanceID)).Collection(COLLECTION_NAME_STUDY_INFOS)
}

func (dbService *StudyDBService) collectionSubmissions(instanceID string, studyKey string) *mongo.Collection {
	return dbService.DBClient.Database(dbService.getDBName(instanceID)).Collection(studyKey + "_" + COLLECTION_NAME_SUFFIX_SUBMISSIONS)
}

func (dbService *StudyDBService) getContext() (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(dbService.timeout)*time.Second)
}

func (dbService *StudyDBService) ensureIndexes() error {
	slog.Debug("Ensuring indexes for study DB")
	for _, instanceID := range dbService.InstanceIDs {
		err := dbService.CreateIndexForStudyInfosCollection(instanceID)
		if err != nil {
			slog.Error("Error creating index for studyInfos", slog.String("error", err.Error()))
		}

		studies, err := dbService.GetStudies(instanceID, "")
		if err != nil {
			slog.Error("Error fetching studies", slog.String("instanceID", instanceID), slog.String("error", err.Error()))
			return err
		}

		for _, study := range studies {
			err = dbService.CreateIndexForSubmissionsCollection(instanceID, study.Key)
			if err != nil {
				slog.Error("Error creating index for submissions", slog.String("studyKey", study.Key), slog.String("error", err.Error()))
			}
		}
	}
	return nil
}
