package provider

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ShadowEntry is one line of the shadow comparison log. Shadow output is
// recorded for offline comparison and never sent anywhere.
type ShadowEntry struct {
	TS           string `json:"ts"`
	EventID      string `json:"event_id"`
	Provider     string `json:"provider"`
	LatencyMS    int64  `json:"latency_ms"`
	OutputLength int    `json:"output_length"`
	Error        string `json:"error,omitempty"`
}

// ShadowLog appends JSONL entries to a size-rotated file.
type ShadowLog struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// NewShadowLog returns a log writing to path with rotation.
func NewShadowLog(path string) *ShadowLog {
	return &ShadowLog{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		},
	}
}

// Record appends one entry. Failures are logged and swallowed; shadow
// sampling is best effort by definition.
func (s *ShadowLog) Record(entry ShadowEntry) {
	if s == nil {
		return
	}
	entry.TS = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[shadow] marshal entry: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		log.Printf("[shadow] write entry: %v", err)
	}
}

// Rotate forces a rotation of the current file, for scheduled hygiene.
func (s *ShadowLog) Rotate() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Rotate()
}

// Close flushes and closes the underlying file.
func (s *ShadowLog) Close() error {
	if s == nil {
		return nil
	}
	return s.writer.Close()
}
