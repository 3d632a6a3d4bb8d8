package config

import (
	"encoding/json"
	"os"
)

// Model represents an available LLM model and, optionally, its per-token rates
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Provider       string `json:"provider"`
	InputPerToken  string `json:"input_per_token,omitempty"`
	OutputPerToken string `json:"output_per_token,omitempty"`
}

// HasPricing reports whether both rates are set
func (m Model) HasPricing() bool {
	return m.InputPerToken != "" && m.OutputPerToken != ""
}

// ModelsConfig holds the available models configuration
type ModelsConfig struct {
	models []Model
}

// NewModelsConfig creates a new models configuration from a file
func NewModelsConfig(configPath string) (*ModelsConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var models []Model
	err = json.Unmarshal(data, &models)
	if err != nil {
		return nil, err
	}

	return &ModelsConfig{models: models}, nil
}

// GetAvailableModels returns the list of available models
func (mc *ModelsConfig) GetAvailableModels() []Model {
	return mc.models
}

// Find looks up a model by ID
func (mc *ModelsConfig) Find(modelID string) (Model, bool) {
	for _, model := range mc.models {
		if model.ID == modelID {
			return model, true
		}
	}
	return Model{}, false
}

// GetDefaultModel returns the first model as the default
func (mc *ModelsConfig) GetDefaultModel() string {
	if len(mc.models) > 0 {
		return mc.models[0].ID
	}
	return ""
}
