package license

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// Directory fetches the published license records. Implementations must
// convert every internal failure into ErrUnavailable; nothing else crosses
// this boundary.
type Directory interface {
	FetchAll(ctx context.Context) ([]Record, error)
}

// DirectoryClient fetches the license directory over HTTP. Every call is a
// fresh fetch; offline-grace policy belongs to the evaluator, not here.
// Concurrent fetches are collapsed through singleflight so a burst of
// evaluations costs one request.
type DirectoryClient struct {
	url    string
	client *http.Client
	group  singleflight.Group
	logger *slog.Logger
}

// NewDirectoryClient creates a directory client with a bounded fetch timeout.
// The timeout must be short (seconds): the evaluator's grace branch depends
// on fetches completing promptly when the directory is unreachable.
func NewDirectoryClient(url string, timeout time.Duration, logger *slog.Logger) *DirectoryClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectoryClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "directory_client")),
	}
}

// FetchAll retrieves and normalizes the directory contents. Any failure
// (network, timeout, non-2xx, parse) returns ErrUnavailable.
func (c *DirectoryClient) FetchAll(ctx context.Context) ([]Record, error) {
	v, err, _ := c.group.Do("fetch", func() (interface{}, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, ErrUnavailable
	}
	return v.([]Record), nil
}

func (c *DirectoryClient) fetch(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("directory fetch failed",
			slog.String("url", c.url),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("directory fetch returned non-2xx",
			slog.String("url", c.url),
			slog.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	records := NormalizeRecords(raw)
	c.logger.Debug("directory fetched",
		slog.Int("records", len(records)),
	)
	return records, nil
}

// directoryEnvelope is the wrapped feed shape {"licenses": [...]}.
type directoryEnvelope struct {
	Licenses []Record `json:"licenses"`
}

// NormalizeRecords flattens the three accepted directory shapes (wrapped
// list, bare list, or single record object) into one list with field
// defaults applied. Unknown shapes normalize to an empty list, not an error.
func NormalizeRecords(raw json.RawMessage) []Record {
	var envelope directoryEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Licenses != nil {
		return applyDefaults(envelope.Licenses)
	}

	var list []Record
	if err := json.Unmarshal(raw, &list); err == nil {
		return applyDefaults(list)
	}

	var single Record
	if err := json.Unmarshal(raw, &single); err == nil && single.Key != "" {
		return applyDefaults([]Record{single})
	}

	return []Record{}
}

func applyDefaults(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Key == "" {
			continue
		}
		rec.ApplyDefaults()
		out = append(out, rec)
	}
	return out
}

// FindByKey returns the record with the given key, or nil.
func FindByKey(records []Record, key string) *Record {
	for i := range records {
		if records[i].Key == key {
			return &records[i]
		}
	}
	return nil
}
