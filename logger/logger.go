// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package logger provides structured JSON logging for request-path events.
// Component-internal logging stays on the standard log package; this logger
// exists for the entries operations tooling ingests.
package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger writes structured entries tagged with the emitting component.
type Logger struct {
	Component  string
	InstanceID string
	Container  string
}

// LogEntry is one structured log line.
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	ActorID    string                 `json:"actor_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the specified component.
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
	}
}

// Log writes one structured entry to stdout.
func (l *Logger) Log(level LogLevel, actorID, requestID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		ActorID:    actorID,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[%s] %s (failed to marshal structured entry: %v)", l.Component, message, err)
		return
	}
	log.Println(string(data))
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(actorID, requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, actorID, requestID, message, fields)
}

// Info logs at INFO level.
func (l *Logger) Info(actorID, requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, actorID, requestID, message, fields)
}

// Warn logs at WARN level.
func (l *Logger) Warn(actorID, requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, actorID, requestID, message, fields)
}

// Error logs at ERROR level.
func (l *Logger) Error(actorID, requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, actorID, requestID, message, fields)
}
