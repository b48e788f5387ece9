package scrapers

import (
	"fmt"
	"sort"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/config"
	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/sirupsen/logrus"
)

// Entry is one registered scraper with its priority rank. Lower ranks win.
type Entry struct {
	Scraper Scraper
	Rank    int
	order   int
}

// Registry is the ordered set of scrapers an aggregator fans out to, plus
// per-field priority overrides.
type Registry struct {
	entries       []Entry
	fieldPriority map[models.Field][]models.SourceID
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{fieldPriority: make(map[models.Field][]models.SourceID)}
}

// Register adds a scraper. Registering the same source twice is an error.
func (r *Registry) Register(s Scraper, rank int) error {
	for _, e := range r.entries {
		if e.Scraper.ID() == s.ID() {
			return shared.NewServiceError(shared.ErrorCategoryConfiguration, shared.CodeInvalidConfig,
				fmt.Sprintf("source %s registered twice", s.ID()), "Registry", "Register", false, nil)
		}
	}
	r.entries = append(r.entries, Entry{Scraper: s, Rank: rank, order: len(r.entries)})
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].Rank != r.entries[j].Rank {
			return r.entries[i].Rank < r.entries[j].Rank
		}
		return r.entries[i].order < r.entries[j].order
	})
	return nil
}

// SetFieldPriority makes order take precedence for field. Sources missing
// from order follow in registry order.
func (r *Registry) SetFieldPriority(field models.Field, order []models.SourceID) {
	r.fieldPriority[field] = append([]models.SourceID(nil), order...)
}

// Entries returns the scrapers in priority order
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Len is the number of registered scrapers
func (r *Registry) Len() int { return len(r.entries) }

// Order returns the source precedence for field
func (r *Registry) Order(field models.Field) []models.SourceID {
	seen := make(map[models.SourceID]bool, len(r.entries))
	order := make([]models.SourceID, 0, len(r.entries))

	for _, id := range r.fieldPriority[field] {
		if !seen[id] && r.has(id) {
			seen[id] = true
			order = append(order, id)
		}
	}
	for _, e := range r.entries {
		if id := e.Scraper.ID(); !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	return order
}

func (r *Registry) has(id models.SourceID) bool {
	for _, e := range r.entries {
		if e.Scraper.ID() == id {
			return true
		}
	}
	return false
}

// Position is the index of id in the default order, or -1
func (r *Registry) Position(id models.SourceID) int {
	for i, e := range r.entries {
		if e.Scraper.ID() == id {
			return i
		}
	}
	return -1
}

// BuildRegistry constructs the enabled scrapers described by sources
func BuildRegistry(sources *config.SourcesConfig, factory *shared.HTTPClientFactory, maxRetries int) (*Registry, error) {
	registry := NewRegistry()
	logger := logrus.WithField("component", "Registry")

	for _, src := range sources.Enabled() {
		timeout := src.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		opts := Options{
			BaseURL:           src.BaseURL,
			HTTPClient:        factory.CreateOptimizedHTTPClient(timeout),
			RequestsPerSecond: src.RequestsPerSecond,
			MaxRetryAttempts:  maxRetries,
		}

		var scraper Scraper
		switch models.SourceID(src.ID) {
		case models.SourceChittorgarh:
			scraper = NewChittorgarhScraper(opts, src.DetailLimit)
		case models.SourceInvestorGain:
			var renderer PageRenderer
			if src.Renderer == "chromedp" {
				renderer = NewChromedpRenderer(timeout)
			}
			scraper = NewInvestorGainScraper(opts, renderer)
		case models.SourceGroww:
			scraper = NewGrowwScraper(opts)
		case models.SourceNSE:
			opts.HTTPClient = factory.CreateSessionClient(timeout)
			scraper = NewNSEScraper(opts)
		case models.SourceNSETools:
			scraper = NewNSEToolsAdapter(opts, timeout)
		default:
			return nil, shared.NewServiceError(shared.ErrorCategoryConfiguration, shared.CodeInvalidConfig,
				fmt.Sprintf("unknown source %q", src.ID), "Registry", "BuildRegistry", false, nil)
		}

		if err := registry.Register(scraper, src.Priority); err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"source":   src.ID,
			"priority": src.Priority,
			"base_url": src.BaseURL,
		}).Info("Registered scraper")
	}

	for field, order := range sources.FieldPriority {
		ids := make([]models.SourceID, 0, len(order))
		for _, id := range order {
			ids = append(ids, models.SourceID(id))
		}
		registry.SetFieldPriority(models.Field(field), ids)
	}

	return registry, nil
}
