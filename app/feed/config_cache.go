package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxSlots      = 10
	DefaultOverlayWindow = 4
	DefaultBottomMargin  = 0.005
	DefaultImagesFolder  = "avito_images"
)

var configExtensions = []string{".yml", ".yaml"}

type ConfigCache struct {
	profilesDir string
	cache       map[string]*Config
	mu          sync.RWMutex
}

func NewConfigCache(profilesDir string) *ConfigCache {
	return &ConfigCache{
		profilesDir: profilesDir,
		cache:       make(map[string]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.profilesDir); os.IsNotExist(err) {
		return nil
	}

	for _, ext := range configExtensions {
		files, err := filepath.Glob(filepath.Join(cc.profilesDir, "*"+ext))
		if err != nil {
			return fmt.Errorf("failed to find YAML files: %w", err)
		}

		for _, file := range files {
			name := strings.TrimSuffix(filepath.Base(file), ext)

			config, err := cc.LoadConfig(name)
			if err != nil {
				return fmt.Errorf("error loading %s: %w", file, err)
			}

			slog.Debug("Configuration loaded", "profile", name, "enabled", config.Settings.Enabled, "refresh_interval", config.Settings.RefreshInterval)
		}
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(name string) (*Config, error) {
	configFile, err := cc.getConfigFilePath(name)
	if err != nil {
		return nil, err
	}

	feedConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	feedConfig.Name = name
	applyDefaults(feedConfig)

	if err := cc.validateConfig(feedConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[feedConfig.Name] = feedConfig

	return feedConfig, nil
}

func (cc *ConfigCache) GetConfig(name string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	feedConfig, ok := cc.cache[name]
	if !ok {
		return nil, fmt.Errorf("profile with name '%s' not found", name)
	}
	return feedConfig, nil
}

func (cc *ConfigCache) GetConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(cc.cache))
	for k, v := range cc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (cc *ConfigCache) GetEnabledConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabledConfigs := make(map[string]*Config)
	for k, v := range cc.cache {
		if v.Settings.Enabled {
			enabledConfigs[k] = v
		}
	}
	return enabledConfigs
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var feedConfig Config
	if err := yaml.Unmarshal(data, &feedConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &feedConfig, nil
}

func applyDefaults(c *Config) {
	if c.Format == "" {
		c.Format = FormatAvito
	}

	s := &c.Settings
	if s.RefreshInterval == 0 {
		s.RefreshInterval = 3600
	}
	if s.MaxItems == 0 {
		s.MaxItems = 100
	}
	if s.Timeout == 0 {
		s.Timeout = 30
	}
	if s.FetchAttempts == 0 {
		s.FetchAttempts = 5
	}
	if s.FetchRetryDelay == 0 {
		s.FetchRetryDelay = 10
	}

	if c.Description.ParagraphMarker == "" {
		c.Description.ParagraphMarker = DefaultParagraphMarker
	}

	img := &c.Images
	if img.OutputDir == "" {
		img.OutputDir = filepath.Join("data", "images", c.Name)
	}
	if img.MaxSlots == 0 {
		img.MaxSlots = DefaultMaxSlots
	}
	if img.OverlayWindow == nil {
		window := DefaultOverlayWindow
		img.OverlayWindow = &window
	}
	if img.CollageGutter == 0 {
		img.CollageGutter = 20
	}
	if img.BottomMargin == nil {
		margin := DefaultBottomMargin
		img.BottomMargin = &margin
	}
	if img.Passthrough == "" {
		img.Passthrough = PassthroughCopy
	}
	if img.FetchAttempts == 0 {
		img.FetchAttempts = 1
	}
	if img.FetchRPS == 0 {
		img.FetchRPS = 5
	}
	if img.JPEGQuality == 0 {
		img.JPEGQuality = 95
	}

	t := &c.Table
	if t.Path == "" {
		t.Path = filepath.Join("data", c.Name+".xlsx")
	}
	if len(t.StandardColumns) == 0 {
		t.StandardColumns = DefaultStandardColumns
	}
	if len(t.RequiredColumns) == 0 {
		t.RequiredColumns = []string{IDField}
	}

	p := &c.Publish
	if p.ImagesFolder == "" {
		p.ImagesFolder = DefaultImagesFolder
	}
	if p.Role == "" {
		p.Role = "writer"
	}
	if p.RemoteName == "" {
		p.RemoteName = filepath.Base(t.Path)
	}
}

func (cc *ConfigCache) validateConfig(feedConfig *Config) error {
	if feedConfig == nil {
		return fmt.Errorf("feedConfig is nil")
	}

	requiredFields := map[string]string{
		"profile name": feedConfig.Name,
		"feed URL":     feedConfig.URL,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	if feedConfig.Format != FormatAvito && feedConfig.Format != FormatRSS {
		return fmt.Errorf("unsupported format: %s", feedConfig.Format)
	}

	nonNegativeFields := map[string]int{
		"refresh interval":  feedConfig.Settings.RefreshInterval,
		"max items":         feedConfig.Settings.MaxItems,
		"timeout":           feedConfig.Settings.Timeout,
		"fetch attempts":    feedConfig.Settings.FetchAttempts,
		"fetch retry delay": feedConfig.Settings.FetchRetryDelay,
		"collage gutter":    feedConfig.Images.CollageGutter,
		"image fetch tries": feedConfig.Images.FetchAttempts,
		"max image slots":   feedConfig.Images.MaxSlots,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	img := feedConfig.Images
	if img.FetchRPS < 0 {
		return fmt.Errorf("image fetch rps must be non-negative")
	}
	if img.MaxSlots > DefaultMaxSlots {
		return fmt.Errorf("max image slots must not exceed %d", DefaultMaxSlots)
	}
	if img.OverlayWindow != nil {
		if *img.OverlayWindow < 0 {
			return fmt.Errorf("overlay window must be non-negative")
		}
		if *img.OverlayWindow > img.MaxSlots {
			return fmt.Errorf("overlay window must not exceed max image slots")
		}
	}
	if img.BottomMargin != nil && (*img.BottomMargin < 0 || *img.BottomMargin >= 1) {
		return fmt.Errorf("bottom margin must be in [0, 1)")
	}
	if img.JPEGQuality < 1 || img.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100")
	}
	if img.Passthrough != PassthroughCopy && img.Passthrough != PassthroughReference {
		return fmt.Errorf("invalid passthrough mode: %s", img.Passthrough)
	}

	ext := strings.ToLower(filepath.Ext(feedConfig.Table.Path))
	if ext != ".xlsx" && ext != ".csv" {
		return fmt.Errorf("table path must end with .xlsx or .csv: %s", feedConfig.Table.Path)
	}

	for i, filter := range feedConfig.Filters {
		if filter.Field == "" {
			return fmt.Errorf("filter at index %d must name a field", i)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 && len(filter.Prefixes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one prefix, include or exclude rule", i)
		}
	}

	for i, attr := range feedConfig.Table.CustomAttributes {
		if attr.Name == "" {
			return fmt.Errorf("custom attribute at index %d must have a name", i)
		}
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(name string) (string, error) {
	for _, ext := range configExtensions {
		path := filepath.Join(cc.profilesDir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("profile file for '%s' not found in %s", name, cc.profilesDir)
}
