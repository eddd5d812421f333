// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package llm defines the contract for the natural-language evaluation
// service the governance engine consults. Calls are synchronous round trips;
// failures propagate to the caller and are never replaced by a cached or
// default decision.
package llm

import (
	"context"
	"time"
)

// Provider is the interface for an LLM evaluation backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the unique identifier for this provider instance.
	// This is used for routing, logging, and metrics.
	Name() string

	// Complete generates a completion for the given request.
	// The context should be used for cancellation and timeout.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsHealthy reports whether the provider is currently operational.
	IsHealthy() bool
}

// CompletionRequest is a single evaluation request.
type CompletionRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	Model        string  `json:"model,omitempty"`
}

// CompletionResponse is the provider's answer.
type CompletionResponse struct {
	Content    string        `json:"content"`
	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason,omitempty"`
	Usage      UsageStats    `json:"usage"`
	Latency    time.Duration `json:"latency"`
}

// UsageStats contains token usage statistics.
type UsageStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
