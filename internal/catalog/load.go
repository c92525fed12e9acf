package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"campusevents/internal/ics"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
)

//go:embed seed.yaml
var seedYAML []byte

// file is the on-disk shape of a YAML catalog.
type file struct {
	Events []model.Event `yaml:"events"`
}

// DecodeYAML reads a YAML catalog. Category labels are normalized, so browse
// aliases such as "Athletics" are accepted.
func DecodeYAML(data []byte) ([]model.Event, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for i := range f.Events {
		f.Events[i].Category = model.ParseCategory(string(f.Events[i].Category))
	}
	return f.Events, nil
}

// Seed returns the built-in sample catalog.
func Seed() []model.Event {
	events, err := DecodeYAML(seedYAML)
	if err != nil {
		// The seed is compiled in; a decode failure is a build defect.
		panic(fmt.Sprintf("catalog: embedded seed is invalid: %v", err))
	}
	return events
}

// Loader assembles a snapshot from the configured sources, in order: seed,
// YAML files, then ICS feeds.
type Loader struct {
	Seed        bool
	Files       []string
	Feeds       []ics.Feed
	Fetcher     *ics.Fetcher
	HorizonDays int
	Location    *time.Location
}

// Load reads every source. A failing source is logged and skipped; the
// returned error joins all source failures and is nil when every source
// loaded.
func (l *Loader) Load(ctx context.Context, now time.Time) ([]model.Event, error) {
	loc := l.Location
	if loc == nil {
		loc = time.Local
	}

	var events []model.Event
	var errs []error

	if l.Seed {
		events = append(events, Seed()...)
	}

	for _, path := range l.Files {
		data, err := os.ReadFile(path)
		if err != nil {
			appLog.Error("catalog: file unreadable", err, "path", path)
			errs = append(errs, err)
			continue
		}
		fromFile, err := DecodeYAML(data)
		if err != nil {
			appLog.Error("catalog: file invalid", err, "path", path)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		events = append(events, fromFile...)
	}

	if len(l.Feeds) > 0 && l.Fetcher != nil {
		payloads, fetchErrs := l.Fetcher.FetchAll(ctx, l.Feeds)
		errs = append(errs, fetchErrs...)

		var comps []ics.Component
		for _, p := range payloads {
			parsed, err := ics.Parse(p.Feed, p.Body)
			if err != nil {
				appLog.Error("catalog: feed unparseable", err, "feed", p.Feed.ID)
				errs = append(errs, fmt.Errorf("feed %s: %w", p.Feed.ID, err))
				continue
			}
			comps = append(comps, parsed...)
		}

		horizon := l.HorizonDays
		if horizon <= 0 {
			horizon = 120
		}
		insts, err := ics.Expand(comps, ics.Window{
			From:     now.AddDate(0, 0, -1),
			To:       now.AddDate(0, 0, horizon),
			Location: loc,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			events = append(events, ics.ToEvents(insts, loc)...)
		}
	}

	return events, errors.Join(errs...)
}

// Refresh loads the sources and swaps the result into c. A partial failure
// still swaps in whatever loaded, unless nothing loaded at all and the
// catalog already has events.
func (l *Loader) Refresh(ctx context.Context, c *Catalog, now time.Time) error {
	events, err := l.Load(ctx, now)
	if len(events) == 0 && err != nil && c.Len() > 0 {
		appLog.Error("catalog refresh produced nothing; keeping previous snapshot", err)
		return err
	}
	c.Replace(NewSnapshot(events))
	appLog.Info("catalog refreshed", "events", c.Len(), "partial", err != nil)
	return err
}
