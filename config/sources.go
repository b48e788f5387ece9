package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SourceConfig configures one scraper
type SourceConfig struct {
	ID                string        `yaml:"id" validate:"required,oneof=chittorgarh investorgain groww nse nsetools"`
	Enabled           *bool         `yaml:"enabled"`
	Priority          int           `yaml:"priority" validate:"gte=0"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	DetailLimit       int           `yaml:"detail_limit" validate:"gte=0"`
	Renderer          string        `yaml:"renderer" validate:"omitempty,oneof=http chromedp"`
}

// IsEnabled reports whether the source should be registered. Sources are
// enabled unless the file says otherwise.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SourcesConfig is the source registry file
type SourcesConfig struct {
	Sources []SourceConfig `yaml:"sources" validate:"required,min=1,unique=ID,dive"`
	// FieldPriority overrides the source order for single fields
	FieldPriority map[string][]string `yaml:"field_priority" validate:"dive,keys,mergefield,endkeys,min=1,dive,oneof=chittorgarh investorgain groww nse nsetools"`
}

var defaultBaseURLs = map[models.SourceID]string{
	models.SourceChittorgarh:  "https://www.chittorgarh.com",
	models.SourceInvestorGain: "https://www.investorgain.com",
	models.SourceGroww:        "https://groww.in",
	models.SourceNSE:          "https://www.nseindia.com",
}

// DefaultSources is the registry used when no file is present
func DefaultSources() *SourcesConfig {
	return &SourcesConfig{
		Sources: []SourceConfig{
			{ID: string(models.SourceChittorgarh), Priority: 1, RequestsPerSecond: 1, DetailLimit: 15},
			{ID: string(models.SourceNSE), Priority: 2, RequestsPerSecond: 1},
			{ID: string(models.SourceGroww), Priority: 3, RequestsPerSecond: 2},
			{ID: string(models.SourceInvestorGain), Priority: 4, RequestsPerSecond: 1, Renderer: "http"},
			{ID: string(models.SourceNSETools), Priority: 5, RequestsPerSecond: 2},
		},
		FieldPriority: map[string][]string{
			string(models.FieldGMP):             {string(models.SourceInvestorGain)},
			string(models.FieldGMPPercent):      {string(models.SourceInvestorGain)},
			string(models.FieldEstListing):      {string(models.SourceInvestorGain)},
			string(models.FieldLotSize):         {string(models.SourceNSE), string(models.SourceChittorgarh)},
			string(models.FieldPERatio):         {string(models.SourceNSETools), string(models.SourceChittorgarh)},
			string(models.FieldPBRatio):         {string(models.SourceNSETools), string(models.SourceChittorgarh)},
			string(models.FieldSectorPE):        {string(models.SourceNSETools)},
			string(models.FieldPromoterHolding): {string(models.SourceChittorgarh), string(models.SourceNSETools)},
		},
	}
}

var mergeableFields = func() map[string]bool {
	fields := map[string]bool{}
	for _, f := range []models.Field{
		models.FieldSymbol, models.FieldCompanyName, models.FieldOpenDate, models.FieldCloseDate,
		models.FieldListingDate, models.FieldExchange, models.FieldStatus, models.FieldSector,
		models.FieldPriceBandLow, models.FieldPriceBandHigh, models.FieldLotSize, models.FieldIssueSize,
		models.FieldRevenueGrowth, models.FieldROE, models.FieldROCE, models.FieldDebtToEquity,
		models.FieldPATMargin, models.FieldPromoterHolding, models.FieldPERatio, models.FieldPBRatio,
		models.FieldSectorPE, models.FieldSectorPB, models.FieldOFSRatio, models.FieldGMP,
		models.FieldGMPPercent, models.FieldIPOPrice, models.FieldEstListing,
	} {
		fields[string(f)] = true
	}
	return fields
}()

func newSourcesValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("mergefield", func(fl validator.FieldLevel) bool {
		return mergeableFields[fl.Field().String()]
	})
	return validate
}

// LoadSources reads the source registry file. A missing file yields the
// defaults; a malformed or invalid file is an error.
func LoadSources(path string, cfg *Config) (*SourcesConfig, error) {
	logger := logrus.WithFields(logrus.Fields{
		"component": "config",
		"file":      path,
	})

	sources := &SourcesConfig{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) || path == "":
		logger.Info("No sources file, using built-in source registry")
		sources = DefaultSources()
	case err != nil:
		return nil, shared.NewServiceError(shared.ErrorCategoryConfiguration, shared.CodeInvalidConfig,
			fmt.Sprintf("read sources file: %v", err), "config", "LoadSources", false, err)
	default:
		if err := yaml.Unmarshal(data, sources); err != nil {
			return nil, shared.NewServiceError(shared.ErrorCategoryConfiguration, shared.CodeInvalidConfig,
				fmt.Sprintf("parse sources file: %v", err), "config", "LoadSources", false, err)
		}
		if sources.FieldPriority == nil {
			sources.FieldPriority = DefaultSources().FieldPriority
		}
	}

	sources.applyOverrides(cfg)

	if err := sources.Validate(); err != nil {
		return nil, err
	}
	return sources, nil
}

func (s *SourcesConfig) applyOverrides(cfg *Config) {
	for i := range s.Sources {
		src := &s.Sources[i]
		src.ID = strings.ToLower(strings.TrimSpace(src.ID))
		if src.BaseURL == "" {
			src.BaseURL = defaultBaseURLs[models.SourceID(src.ID)]
		}
		if cfg == nil {
			continue
		}
		if src.ID == string(models.SourceNSETools) && cfg.NSEToolsURL != "" {
			src.BaseURL = cfg.NSEToolsURL
		}
		if src.ID == string(models.SourceInvestorGain) && cfg.ChromedpEnabled {
			src.Renderer = "chromedp"
		}
		if src.Timeout <= 0 {
			src.Timeout = cfg.SourceTimeout
		}
	}

	// the bridge has no public default
	for i := range s.Sources {
		src := &s.Sources[i]
		if src.ID == string(models.SourceNSETools) && src.BaseURL == "" && src.IsEnabled() {
			disabled := false
			src.Enabled = &disabled
			logrus.WithField("component", "config").Info("NSETOOLS_URL not set, nsetools source disabled")
		}
	}
}

// Validate checks the registry with its struct tags
func (s *SourcesConfig) Validate() error {
	if err := newSourcesValidator().Struct(s); err != nil {
		return shared.NewServiceError(shared.ErrorCategoryValidation, shared.CodeInvalidConfig,
			fmt.Sprintf("invalid sources configuration: %v", err), "config", "Validate", false, err)
	}
	return nil
}

// Enabled returns the enabled sources ordered by priority. Equal
// priorities keep file order.
func (s *SourcesConfig) Enabled() []SourceConfig {
	var enabled []SourceConfig
	for _, src := range s.Sources {
		if src.IsEnabled() {
			enabled = append(enabled, src)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})
	return enabled
}
