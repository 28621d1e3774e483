package profile

import (
	"os"
	"testing"
)

func TestAIProfileDefaults(t *testing.T) {
	clearAIEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"AIProvider default", "openai", profile.AIProvider},
		{"AIEmbeddingProvider follows AIProvider", "openai", profile.AIEmbeddingProvider},
		{"AIOpenAIBaseURL default", "https://api.openai.com/v1", profile.AIOpenAIBaseURL},
		{"AIDeepSeekBaseURL default", "https://api.deepseek.com", profile.AIDeepSeekBaseURL},
		{"AISiliconFlowBaseURL default", "https://api.siliconflow.cn/v1", profile.AISiliconFlowBaseURL},
		{"AIOllamaBaseURL default", "http://localhost:11434", profile.AIOllamaBaseURL},
		{"AIChatModel default", "gpt-4o-mini", profile.AIChatModel},
		{"AIEmbeddingModel default", "text-embedding-3-small", profile.AIEmbeddingModel},
	}

	if profile.AIEnabled {
		t.Error("AIEnabled should be false by default")
	}
	if profile.AIEmbeddingDims != 1536 {
		t.Errorf("AIEmbeddingDims default: expected 1536, got %d", profile.AIEmbeddingDims)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}
}

func TestAIProfileFromEnv(t *testing.T) {
	clearAIEnvVars()

	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "RECALL_AI_PROVIDER",
			envVar:   "RECALL_AI_PROVIDER",
			envValue: "deepseek",
			field:    func(p *Profile) string { return p.AIProvider },
			expected: "deepseek",
		},
		{
			name:     "RECALL_AI_EMBEDDING_PROVIDER",
			envVar:   "RECALL_AI_EMBEDDING_PROVIDER",
			envValue: "siliconflow",
			field:    func(p *Profile) string { return p.AIEmbeddingProvider },
			expected: "siliconflow",
		},
		{
			name:     "RECALL_AI_OPENAI_API_KEY",
			envVar:   "RECALL_AI_OPENAI_API_KEY",
			envValue: "openai-key",
			field:    func(p *Profile) string { return p.AIOpenAIAPIKey },
			expected: "openai-key",
		},
		{
			name:     "RECALL_AI_OPENAI_BASE_URL",
			envVar:   "RECALL_AI_OPENAI_BASE_URL",
			envValue: "https://custom.openai.proxy/v1",
			field:    func(p *Profile) string { return p.AIOpenAIBaseURL },
			expected: "https://custom.openai.proxy/v1",
		},
		{
			name:     "RECALL_AI_CHAT_MODEL",
			envVar:   "RECALL_AI_CHAT_MODEL",
			envValue: "gpt-4",
			field:    func(p *Profile) string { return p.AIChatModel },
			expected: "gpt-4",
		},
		{
			name:     "RECALL_AI_EMBEDDING_MODEL",
			envVar:   "RECALL_AI_EMBEDDING_MODEL",
			envValue: "BAAI/bge-m3",
			field:    func(p *Profile) string { return p.AIEmbeddingModel },
			expected: "BAAI/bge-m3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearAIEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestIsAIEnabled(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(*Profile)
		expectedResult bool
	}{
		{
			name:           "AIEnabled=false should return false",
			setup:          func(p *Profile) { p.AIEnabled = false },
			expectedResult: false,
		},
		{
			name: "AIEnabled=true but no backend should return false",
			setup: func(p *Profile) {
				p.AIEnabled = true
			},
			expectedResult: false,
		},
		{
			name: "AIEnabled=true with OpenAI API key should return true",
			setup: func(p *Profile) {
				p.AIEnabled = true
				p.AIOpenAIAPIKey = "test-key"
			},
			expectedResult: true,
		},
		{
			name: "AIEnabled=true with Ollama base URL should return true",
			setup: func(p *Profile) {
				p.AIEnabled = true
				p.AIOllamaBaseURL = "http://localhost:11434"
			},
			expectedResult: true,
		},
		{
			name: "AIEnabled=false with API keys should return false",
			setup: func(p *Profile) {
				p.AIEnabled = false
				p.AIOpenAIAPIKey = "test-key"
				p.AIDeepSeekAPIKey = "test-key"
			},
			expectedResult: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := &Profile{}
			tt.setup(profile)
			if got := profile.IsAIEnabled(); got != tt.expectedResult {
				t.Errorf("IsAIEnabled(): expected %v, got %v", tt.expectedResult, got)
			}
		})
	}
}

func clearAIEnvVars() {
	aiEnvVars := []string{
		"RECALL_AI_ENABLED",
		"RECALL_AI_PROVIDER",
		"RECALL_AI_EMBEDDING_PROVIDER",
		"RECALL_AI_OPENAI_API_KEY",
		"RECALL_AI_OPENAI_BASE_URL",
		"RECALL_AI_DEEPSEEK_API_KEY",
		"RECALL_AI_DEEPSEEK_BASE_URL",
		"RECALL_AI_SILICONFLOW_API_KEY",
		"RECALL_AI_SILICONFLOW_BASE_URL",
		"RECALL_AI_OLLAMA_BASE_URL",
		"RECALL_AI_CHAT_MODEL",
		"RECALL_AI_EMBEDDING_MODEL",
		"RECALL_AI_EMBEDDING_DIMENSIONS",
	}
	for _, envVar := range aiEnvVars {
		os.Unsetenv(envVar)
	}
}
