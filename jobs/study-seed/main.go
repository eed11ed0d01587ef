package main

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/utils"
)

type studyDefinition struct {
	Key    string `yaml:"key"`
	Status string `yaml:"status"`
	Props  struct {
		Name           string `yaml:"name"`
		Species        string `yaml:"species"`
		ConditionFocus string `yaml:"condition_focus"`
	} `yaml:"props"`
	Schema struct {
		Version  string `yaml:"version"`
		Symptoms []struct {
			Key       string `yaml:"key"`
			Label     string `yaml:"label"`
			MinRating int    `yaml:"min_rating"`
			MaxRating int    `yaml:"max_rating"`
		} `yaml:"symptoms"`
		CustomQuestions []struct {
			Key          string `yaml:"key"`
			Label        string `yaml:"label"`
			ResponseType string `yaml:"response_type"`
			ScaleMin     int    `yaml:"scale_min"`
			ScaleMax     int    `yaml:"scale_max"`
		} `yaml:"custom_questions"`
	} `yaml:"schema"`
	AccessTokens []struct {
		Token  string `yaml:"token"`
		Label  string `yaml:"label"`
		Active bool   `yaml:"active"`
	} `yaml:"access_tokens"`
}

func main() {
	slog.Info("Starting study seed job")
	start := time.Now()

	definitions, err := loadStudyDefinitions(conf.StudyDefinitionsPath)
	if err != nil {
		slog.Error("Failed to load study definitions", slog.String("path", conf.StudyDefinitionsPath), slog.String("error", err.Error()))
		return
	}

	for _, instanceID := range conf.InstanceIDs {
		for _, definition := range definitions {
			study := studyFromDefinition(definition)

			if err := studyDBService.UpsertStudy(instanceID, study); err != nil {
				slog.Error("Failed to upsert study",
					slog.String("instanceID", instanceID),
					slog.String("studyKey", study.Key),
					slog.String("error", err.Error()))
				continue
			}

			verifySubmissionIndexes(instanceID, study.Key)

			slog.Info("Study seeded",
				slog.String("instanceID", instanceID),
				slog.String("studyKey", study.Key),
				slog.String("status", study.Status),
				slog.Int("accessTokens", len(study.AccessTokens)))
		}
	}

	slog.Info("Study seed job completed", slog.String("duration", time.Since(start).String()))
}

func loadStudyDefinitions(path string) ([]studyDefinition, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var definitionsFile struct {
		Studies []studyDefinition `yaml:"studies"`
	}
	if err := yaml.UnmarshalStrict(yamlFile, &definitionsFile); err != nil {
		return nil, err
	}
	return definitionsFile.Studies, nil
}

func studyFromDefinition(definition studyDefinition) studyTypes.Study {
	study := studyTypes.Study{
		Key:       definition.Key,
		Status:    definition.Status,
		CreatedAt: time.Now().Unix(),
		Props: studyTypes.StudyProps{
			Name:           definition.Props.Name,
			Species:        definition.Props.Species,
			ConditionFocus: definition.Props.ConditionFocus,
		},
		Schema: studyTypes.SurveySchema{
			Version: definition.Schema.Version,
		},
	}

	for _, symptom := range definition.Schema.Symptoms {
		study.Schema.Symptoms = append(study.Schema.Symptoms, studyTypes.SymptomDefinition{
			Key:       symptom.Key,
			Label:     symptom.Label,
			MinRating: symptom.MinRating,
			MaxRating: symptom.MaxRating,
		})
	}

	for _, question := range definition.Schema.CustomQuestions {
		study.Schema.CustomQuestions = append(study.Schema.CustomQuestions, studyTypes.CustomQuestion{
			Key:          question.Key,
			Label:        question.Label,
			ResponseType: question.ResponseType,
			ScaleMin:     question.ScaleMin,
			ScaleMax:     question.ScaleMax,
		})
	}

	for _, token := range definition.AccessTokens {
		study.AccessTokens = append(study.AccessTokens, studyTypes.AccessToken{
			Token:     token.Token,
			Label:     token.Label,
			Active:    token.Active,
			CreatedAt: time.Now().Unix(),
		})
	}

	// tokens can be injected per study through the environment instead of
	// being committed to the definitions file
	envVarName := utils.GenerateStudyAccessTokenEnvVarName(definition.Key)
	if token := os.Getenv(envVarName); token != "" {
		study.AccessTokens = append(study.AccessTokens, studyTypes.AccessToken{
			Token:     token,
			Label:     "from environment",
			Active:    true,
			CreatedAt: time.Now().Unix(),
		})
	}

	return study
}

// verifySubmissionIndexes checks that the uniqueness constraint on
// clientSubmissionID exists for the study's submissions collection.
func verifySubmissionIndexes(instanceID string, studyKey string) {
	indexes, err := studyDBService.ListSubmissionIndexes(instanceID, studyKey)
	if err != nil {
		slog.Error("Failed to list submission indexes",
			slog.String("instanceID", instanceID),
			slog.String("studyKey", studyKey),
			slog.String("error", err.Error()))
		return
	}

	for _, index := range indexes {
		if unique, ok := index["unique"].(bool); ok && unique {
			return
		}
	}

	slog.Warn("No unique index found on submissions collection",
		slog.String("instanceID", instanceID),
		slog.String("studyKey", studyKey))
}
