package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CallLogEntry is one line of a JSONL call log written by an invocation wrapper
type CallLogEntry struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Caller           string  `json:"caller"`
	ConversationID   string  `json:"conversation_id"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	DurationMs       float64 `json:"duration_ms"`
	Success          *bool   `json:"success"`
	Timestamp        string  `json:"timestamp"`
}

// Options converts the entry into record options. A missing success flag
// means the call succeeded.
func (e CallLogEntry) Options() []RecordOption {
	opts := []RecordOption{
		WithConversation(e.ConversationID),
		WithTokens(e.PromptTokens, e.CompletionTokens),
		WithDuration(e.DurationMs),
	}
	if e.Success != nil {
		opts = append(opts, WithSuccess(*e.Success))
	}
	if e.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			slog.Debug("ignoring unparseable call timestamp, using record time",
				"caller", e.Caller,
				"timestamp", e.Timestamp,
				"error", err)
		} else {
			opts = append(opts, At(ts))
		}
	}
	return opts
}

// Validate reports the first missing required field
func (e CallLogEntry) Validate() error {
	switch {
	case e.Provider == "":
		return errors.New("missing provider")
	case e.Model == "":
		return errors.New("missing model")
	case e.Caller == "":
		return errors.New("missing caller")
	}
	return nil
}

// ParseCallLog reads a JSONL call log. Blank lines, malformed JSON and
// entries that fail Validate are skipped.
func ParseCallLog(path string) ([]CallLogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var entries []CallLogEntry
	for _, line := range splitLines(string(data)) {
		line = trim(line)
		if line == "" {
			continue
		}

		var entry CallLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if err := entry.Validate(); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ReplayCallLog records every entry of a call log into the ledger and
// returns the number of calls recorded
func ReplayCallLog(rec Recorder, path string) (int, error) {
	entries, err := ParseCallLog(path)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		rec.Record(e.Provider, e.Model, e.Caller, e.Options()...)
	}
	return len(entries), nil
}

// FindCallLogs returns every .jsonl file under dir, sorted by path
func FindCallLogs(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(info.Name()) == ".jsonl" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk call log directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// splitLines splits s on newlines, dropping a trailing empty line
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
