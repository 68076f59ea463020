// Package cliutil renders child output and lifecycle notices as structured
// log records for the CLI surface.
package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// Record sources.
const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"
	SourceSystem = "system"
)

// Record represents one line of child output ready for JSON encoding.
type Record struct {
	Timestamp time.Time `json:"ts"`
	PID       int       `json:"pid"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
}

// NewRecord builds a record for one output line, inferring a level from the
// message when the source doesn't dictate one.
func NewRecord(pid int, source, message string) Record {
	level := ""
	if source == SourceStderr {
		level = "warn"
	}
	if level == "" {
		if inferred := inferLogLevel(message); inferred != "" {
			level = inferred
		} else {
			level = "info"
		}
	}
	if source == "" {
		source = SourceSystem
	}
	return Record{
		Timestamp: time.Now(),
		PID:       pid,
		Level:     level,
		Message:   message,
		Source:    source,
	}
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|info)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return "error"
	case "warn":
		return "warn"
	case "info":
		return "info"
	default:
		return ""
	}
}

// EncodeRecord encodes a record to JSON, reporting errors to stderr if
// needed.
func EncodeRecord(enc *json.Encoder, stderr io.Writer, record Record) {
	if enc == nil {
		return
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}
