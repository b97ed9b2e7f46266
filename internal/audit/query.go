package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// maxLineBytes bounds one JSONL record when reading a trail back.
const maxLineBytes = 4 << 20

// Query selects events from a trail. Zero fields match everything.
type Query struct {
	Actor       string
	Namespace   string
	Key         string
	Environment string
	Types       []EventType
	Since       time.Time
	Until       time.Time

	// Limit keeps only the most recent matches. Zero keeps all.
	Limit int
}

// Matches reports whether e satisfies every set field of q.
func (q Query) Matches(e Event) bool {
	switch {
	case q.Actor != "" && e.Actor != q.Actor:
		return false
	case q.Namespace != "" && e.Namespace != q.Namespace:
		return false
	case q.Key != "" && e.Key != q.Key:
		return false
	case q.Environment != "" && e.Environment != q.Environment:
		return false
	case !q.Since.IsZero() && e.Timestamp.Before(q.Since):
		return false
	case !q.Until.IsZero() && e.Timestamp.After(q.Until):
		return false
	}
	if len(q.Types) == 0 {
		return true
	}
	for _, t := range q.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// QueryResult is the outcome of reading a trail.
type QueryResult struct {
	// Events are the matches, oldest first.
	Events []Event
	// Total counts every match before Limit was applied.
	Total int
	// Skipped counts lines that were not valid events, such as a record
	// torn by a crash mid-write.
	Skipped int
}

// ReadFile reads the JSONL trail written by a FileSink and returns the
// events matching q. A missing file is an empty trail.
func ReadFile(ctx context.Context, path string, q Query) (*QueryResult, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-configured path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &QueryResult{}, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	res := &QueryResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil || e.Type == "" {
			res.Skipped++
			continue
		}
		if !q.Matches(e) {
			continue
		}
		res.Total++
		res.Events = append(res.Events, e)
		if q.Limit > 0 && len(res.Events) > q.Limit {
			res.Events = res.Events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return res, nil
}
