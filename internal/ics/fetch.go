package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
)

// Feed is one iCalendar source merged into the event catalog.
type Feed struct {
	ID  string
	URL string
	// Category tags feed events that carry no CATEGORIES property.
	Category model.Category
}

// Payload is the body of a feed, fresh or from the local cache.
type Payload struct {
	Feed      Feed
	Body      []byte
	FromCache bool
}

// validators are the conditional-GET headers remembered per feed URL.
type validators struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads feeds with ETag / Last-Modified revalidation and falls
// back to the last good body when the origin is unreachable.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// FetchAll fetches feeds one by one. Failed feeds are logged, reported in
// the error slice and left out of the payloads.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []Feed) ([]Payload, []error) {
	out := make([]Payload, 0, len(feeds))
	var errs []error

	for _, feed := range feeds {
		p, err := f.FetchOne(ctx, feed)
		if err != nil {
			appLog.Error("ics feed fetch failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

// FetchOne fetches a single feed.
func (f *Fetcher) FetchOne(ctx context.Context, feed Feed) (Payload, error) {
	if feed.URL == "" {
		return Payload{}, errors.New("feed URL is empty")
	}

	dir := f.entryDir(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Payload{}, err
	}
	meta := readValidators(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fallback := func(cause error) (Payload, error) {
		if len(cached) == 0 {
			return Payload{}, cause
		}
		appLog.Warn("ics feed unavailable, serving cached body", "feed", feed.ID, "url", redactURL(feed.URL), "cause", cause.Error())
		return Payload{Feed: feed, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return Payload{}, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(err)
		}
		next := validators{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := writeEntry(dir, next, body); err != nil {
			appLog.Error("ics cache write failed", err, "feed", feed.ID)
		}
		appLog.Debug("ics feed fetched", "feed", feed.ID, "bytes", len(body))
		return Payload{Feed: feed, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Payload{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics feed not modified", "feed", feed.ID)
		return Payload{Feed: feed, Body: cached, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) entryDir(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func readValidators(dir string) validators {
	var v validators
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return v
	}
	_ = json.Unmarshal(data, &v)
	return v
}

// writeEntry stores the body before the validators so a validator file never
// points at a missing body.
func writeEntry(dir string, v validators, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often embed private tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
