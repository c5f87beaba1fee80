package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/enrich-cli/internal/config"
	"github.com/prepstack/enrich-cli/internal/model"
)

func TestHostedModels(t *testing.T) {
	assert.Contains(t, hostedModels(model.BackendOpenAI), "gpt-4o-mini")
	assert.Contains(t, hostedModels(model.BackendAnthropic), "claude-3-5-haiku-20241022")
}

func TestListModelsEndpointHostedBackends(t *testing.T) {
	h := handleListModels()

	cases := map[string]string{
		"openai":    "gpt-4o-mini",
		"anthropic": "claude-3-5-haiku-20241022",
	}
	for backend, want := range cases {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/models?backend="+backend, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Backend string   `json:"backend"`
			Models  []string `json:"models"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, backend, body.Backend)
		assert.Contains(t, body.Models, want)
	}
}

func TestListModelsEndpointRejectsUnknownBackend(t *testing.T) {
	rec := httptest.NewRecorder()
	handleListModels()(rec, httptest.NewRequest(http.MethodGet, "/api/models?backend=gemini", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveModel(t *testing.T) {
	cfg = &config.Config{
		OpenAI:    config.OpenAIConfig{Model: "gpt-4o-mini"},
		Anthropic: config.AnthropicConfig{Model: "claude-3-5-haiku-20241022"},
		Ollama:    config.OllamaConfig{Model: "qwen:7b"},
	}

	assert.Equal(t, "qwen:7b", resolveModel(model.BackendOllama, ""))
	assert.Equal(t, "gpt-4o-mini", resolveModel(model.BackendOpenAI, ""))
	assert.Equal(t, "claude-3-5-haiku-20241022", resolveModel(model.BackendAnthropic, ""))
	assert.Equal(t, "llama3:8b", resolveModel(model.BackendOllama, "llama3:8b"),
		"an explicit model always wins over the configured default")
}
