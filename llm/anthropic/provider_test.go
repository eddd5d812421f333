// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"loanguard/platform/llm"
)

// MockHTTPClient is a mock implementation of HTTPClient.
type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func jsonResponse(status int, body interface{}) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

func TestNewProvider_Success(t *testing.T) {
	provider, err := NewProvider(Config{APIKey: "test-api-key"})

	require.NoError(t, err)
	assert.Equal(t, "anthropic", provider.Name())
	assert.Equal(t, DefaultBaseURL, provider.baseURL)
	assert.Equal(t, DefaultModel, provider.model)
	assert.True(t, provider.IsHealthy())
}

func TestNewProvider_MissingAPIKey(t *testing.T) {
	_, err := NewProvider(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestComplete_Success(t *testing.T) {
	mockClient := new(MockHTTPClient)
	mockClient.On("Do", mock.Anything).Return(jsonResponse(http.StatusOK, anthropicResponse{
		Model:      DefaultModel,
		StopReason: "end_turn",
		Content: []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{
			{Type: "text", Text: `{"routing_decision":"supervisor_approval"}`},
		},
		Usage: struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		}{InputTokens: 100, OutputTokens: 30},
	}), nil)

	provider, err := NewProvider(Config{APIKey: "test-api-key"})
	require.NoError(t, err)
	provider.client = mockClient

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Prompt: "Evaluate this action",
	})

	require.NoError(t, err)
	assert.Contains(t, resp.Content, "supervisor_approval")
	assert.Equal(t, 130, resp.Usage.TotalTokens)
	assert.True(t, provider.IsHealthy())
	mockClient.AssertExpectations(t)
}

func TestComplete_APIError(t *testing.T) {
	mockClient := new(MockHTTPClient)
	mockClient.On("Do", mock.Anything).Return(jsonResponse(http.StatusTooManyRequests, map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    "rate_limit_error",
			"message": "rate limited",
		},
	}), nil)

	provider, err := NewProvider(Config{APIKey: "test-api-key"})
	require.NoError(t, err)
	provider.client = mockClient

	_, err = provider.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimitError())
}

func TestComplete_TransportError(t *testing.T) {
	mockClient := new(MockHTTPClient)
	mockClient.On("Do", mock.Anything).Return(nil, errors.New("connection refused"))

	provider, err := NewProvider(Config{APIKey: "test-api-key"})
	require.NoError(t, err)
	provider.client = mockClient

	_, err = provider.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.False(t, provider.IsHealthy())
}
