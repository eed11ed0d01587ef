package utils

import "testing"

func TestGenerateEnvVarName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple alphanumeric name",
			input:    "mystudy",
			expected: "MYSTUDY",
		},
		{
			name:     "name with hyphens",
			input:    "canine-osteosarcoma-cohort",
			expected: "CANINE_OSTEOSARCOMA_COHORT",
		},
		{
			name:     "name with spaces",
			input:    "my study name",
			expected: "MY_STUDY_NAME",
		},
		{
			name:     "name with mixed characters",
			input:    "my-study_name.v2",
			expected: "MY_STUDY_NAME_V2",
		},
		{
			name:     "name with leading/trailing special chars",
			input:    "-my_study-",
			expected: "MY_STUDY",
		},
		{
			name:     "name already uppercase",
			input:    "MYSTUDY",
			expected: "MYSTUDY",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "only special characters",
			input:    "---",
			expected: "",
		},
		{
			name:     "name with numbers",
			input:    "study-v1.2.3",
			expected: "STUDY_V1_2_3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateEnvVarName(tt.input)
			if result != tt.expected {
				t.Errorf("GenerateEnvVarName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGenerateStudyAccessTokenEnvVarName(t *testing.T) {
	tests := []struct {
		name     string
		studyKey string
		expected string
	}{
		{
			name:     "simple study key",
			studyKey: "osteosarcoma",
			expected: "STUDY_ACCESS_TOKEN_FOR_OSTEOSARCOMA",
		},
		{
			name:     "study key with hyphens",
			studyKey: "canine-lymphoma-2026",
			expected: "STUDY_ACCESS_TOKEN_FOR_CANINE_LYMPHOMA_2026",
		},
		{
			name:     "study key with dots and version",
			studyKey: "feline.mast.cell.v2",
			expected: "STUDY_ACCESS_TOKEN_FOR_FELINE_MAST_CELL_V2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateStudyAccessTokenEnvVarName(tt.studyKey)
			if result != tt.expected {
				t.Errorf("GenerateStudyAccessTokenEnvVarName(%q) = %q, want %q", tt.studyKey, result, tt.expected)
			}
		})
	}
}
