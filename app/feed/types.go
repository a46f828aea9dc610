package feed

const (
	FormatAvito = "avito"
	FormatRSS   = "rss"
)

const (
	PassthroughCopy      = "copy"
	PassthroughReference = "reference"
)

// Listing types

type Item struct {
	ExternalID   string
	Fields       *Fields
	Description  string
	RawImageURLs []string
	HasImages    bool // the item carried an images section, possibly empty
}

type Issue struct {
	Index      int
	ExternalID string
	Reason     string
}

// Configuration types

type Config struct {
	Name        string            // Derived from filename (without extension)
	URL         string            `yaml:"url"`
	Format      string            `yaml:"format"`
	Settings    ConfigSettings    `yaml:"settings"`
	Filters     []ConfigFilter    `yaml:"filters"`
	Description DescriptionConfig `yaml:"description"`
	Images      ImagesConfig      `yaml:"images"`
	Table       TableConfig       `yaml:"table"`
	Publish     PublishConfig     `yaml:"publish"`
}

type ConfigSettings struct {
	Enabled            bool     `yaml:"enabled"`
	RefreshInterval    int      `yaml:"refresh_interval"` // seconds
	MaxItems           int      `yaml:"max_items"`        // new records per cycle
	Timeout            int      `yaml:"timeout"`          // seconds
	FetchAttempts      int      `yaml:"fetch_attempts"`
	FetchRetryDelay    int      `yaml:"fetch_retry_delay"` // seconds
	LocalCopy          string   `yaml:"local_copy"`
	RequiredFields     []string `yaml:"required_fields"`
	AllowMissingImages bool     `yaml:"allow_missing_images"`
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Prefixes []string `yaml:"prefixes"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

type DescriptionConfig struct {
	Insertion         string `yaml:"insertion"`
	Marker            string `yaml:"marker"`
	ParagraphMarker   string `yaml:"paragraph_marker"`
	UnwantedSuffix    string `yaml:"unwanted_suffix"`
	BoilerplateMarker string `yaml:"boilerplate_marker"`
	BoilerplateTail   string `yaml:"boilerplate_tail"`
}

type ImagesConfig struct {
	OutputDir     string   `yaml:"output_dir"`
	Overlays      []string `yaml:"overlays"`
	OverlayWindow *int     `yaml:"overlay_window"` // 0 disables overlays
	CollageImage  string   `yaml:"collage_image"`
	CollageGutter int      `yaml:"collage_gutter"`
	BottomMargin  *float64 `yaml:"bottom_margin"` // fraction of base height
	ShopImages    []string `yaml:"shop_images"`
	MaxSlots      int      `yaml:"max_slots"`
	Passthrough   string   `yaml:"passthrough"`
	FetchAttempts int      `yaml:"fetch_attempts"`
	FetchRPS      float64  `yaml:"fetch_rps"`
	JPEGQuality   int      `yaml:"jpeg_quality"`
}

type TableConfig struct {
	Path             string      `yaml:"path"`
	StandardColumns  []string    `yaml:"standard_columns"`
	CustomAttributes []Attribute `yaml:"custom_attributes"`
	RequiredColumns  []string    `yaml:"required_columns"`
	ResyncColumns    []string    `yaml:"resync_columns"`
	PullRemote       bool        `yaml:"pull_remote"`
	ProcessedFeed    string      `yaml:"processed_feed"`
}

type Attribute struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type PublishConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ImagesFolder string `yaml:"images_folder"`
	Role         string `yaml:"role"`
	RemoteName   string `yaml:"remote_name"`
}
