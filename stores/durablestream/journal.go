// Package durablestream stores form journals on a durable-streams server
// (https://github.com/durable-streams/durable-streams).
//
// Durable-streams is an HTTP protocol for append-only streams with opaque
// string offsets. All forms share one stream; each message is one JSON
// encoded stateform.JournalEntry.
//
// Positions are assigned by the Journal, not the server, so a stream must
// have a single writing Journal at a time.
package durablestream

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/jilio/stateform"
	"go.uber.org/zap"
)

// Journal implements stateform.Journal on a durable stream.
type Journal struct {
	client *client
	cfg    *config

	mu sync.Mutex
	// positions caches the last position of every form, filled by one scan
	// of the stream on first use.
	positions map[string]int64
}

var _ stateform.Journal = (*Journal)(nil)

// New connects to the stream at streamURL, e.g.
// "https://server.example.com/v1/stream/forms", creating it if needed.
func New(ctx context.Context, streamURL string, opts ...Option) (*Journal, error) {
	if streamURL == "" {
		return nil, fmt.Errorf("durablestream: streamURL is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	c := &client{streamURL: streamURL, cfg: cfg}
	if err := c.create(ctx); err != nil {
		return nil, fmt.Errorf("durablestream: create stream: %w", err)
	}
	return &Journal{client: c, cfg: cfg}, nil
}

// Append implements stateform.Journal.
func (j *Journal) Append(ctx context.Context, entry *stateform.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.scanLocked(ctx); err != nil {
		return err
	}

	pos := j.positions[entry.FormID] + 1
	entry.Position = pos
	data, err := json.Marshal([]*stateform.JournalEntry{entry})
	if err != nil {
		entry.Position = 0
		return fmt.Errorf("durablestream: marshal entry: %w", err)
	}
	if _, err := j.client.appendJSON(ctx, data); err != nil {
		entry.Position = 0
		return fmt.Errorf("durablestream: append: %w", err)
	}
	j.positions[entry.FormID] = pos
	return nil
}

// Load implements stateform.Journal. It reads the whole stream and keeps
// the entries of formID.
func (j *Journal) Load(ctx context.Context, formID string, from int64) ([]*stateform.JournalEntry, error) {
	var out []*stateform.JournalEntry
	err := j.each(ctx, func(e *stateform.JournalEntry) {
		if e.FormID == formID && e.Position >= from {
			out = append(out, e)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Position implements stateform.Journal.
func (j *Journal) Position(ctx context.Context, formID string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.scanLocked(ctx); err != nil {
		return 0, err
	}
	return j.positions[formID], nil
}

// Close is a no-op for HTTP streams.
func (j *Journal) Close() error {
	return nil
}

func (j *Journal) scanLocked(ctx context.Context) error {
	if j.positions != nil {
		return nil
	}
	positions := make(map[string]int64)
	err := j.each(ctx, func(e *stateform.JournalEntry) {
		if e.Position > positions[e.FormID] {
			positions[e.FormID] = e.Position
		}
	})
	if err != nil {
		return err
	}
	j.positions = positions
	return nil
}

// each calls fn with every well-formed entry of the stream, oldest first.
func (j *Journal) each(ctx context.Context, fn func(*stateform.JournalEntry)) error {
	offset := offsetOldest
	for {
		p, err := j.client.read(ctx, offset)
		if err != nil {
			return fmt.Errorf("durablestream: read: %w", err)
		}
		if len(p.body) == 0 || string(p.body) == "[]" {
			return nil
		}

		var raw []json.RawMessage
		if err := json.Unmarshal(p.body, &raw); err != nil {
			return fmt.Errorf("durablestream: unmarshal response: %w", err)
		}
		for i, msg := range raw {
			var e stateform.JournalEntry
			if err := json.Unmarshal(msg, &e); err != nil || e.FormID == "" {
				j.cfg.logger.Warn("skipping malformed stream message",
					zap.String("offset", offset),
					zap.Int("index", i),
					zap.Error(err),
				)
				continue
			}
			fn(&e)
		}

		if p.upToDate || p.nextOffset == "" || p.nextOffset == offset {
			return nil
		}
		offset = p.nextOffset
	}
}
