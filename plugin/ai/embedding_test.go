package ai

import (
	"context"
	"testing"
	"time"

	recallerrors "github.com/hrygo/recall/internal/errors"
)

// TestNewEmbeddingService tests service creation.
func TestNewEmbeddingService(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *EmbeddingConfig
		expectError bool
	}{
		{
			name: "OpenAI config",
			cfg: &EmbeddingConfig{
				Provider:   "openai",
				Model:      "text-embedding-3-small",
				Dimensions: 1536,
				APIKey:     "test-key",
			},
			expectError: false,
		},
		{
			name: "SiliconFlow config",
			cfg: &EmbeddingConfig{
				Provider:   "siliconflow",
				Model:      "BAAI/bge-m3",
				Dimensions: 1024,
				APIKey:     "test-key",
				BaseURL:    "https://api.siliconflow.cn/v1",
			},
			expectError: false,
		},
		{
			name: "Unsupported provider",
			cfg: &EmbeddingConfig{
				Provider: "cohere",
				Model:    "embed-v3",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewEmbeddingService(tt.cfg)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if svc.Dimensions() != tt.cfg.Dimensions {
				t.Errorf("Expected dimensions %d, got %d", tt.cfg.Dimensions, svc.Dimensions())
			}
			if svc.Model() != tt.cfg.Model {
				t.Errorf("Expected model %s, got %s", tt.cfg.Model, svc.Model())
			}
		})
	}
}

// TestEmbedBatchEmptyInput tests the empty-input guard.
func TestEmbedBatchEmptyInput(t *testing.T) {
	svc, err := NewEmbeddingService(&EmbeddingConfig{
		Provider:   "openai",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		APIKey:     "test-key",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	_, err = svc.EmbedBatch(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected error for empty input, got nil")
	}
	if !recallerrors.IsCode(err, recallerrors.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT, got %v", err)
	}
}
