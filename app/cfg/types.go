package cfg

const (
	StoreNone  = "none"
	StoreDrive = "drive"
	StoreS3    = "s3"
)

type Cfg struct {
	// Database configuration
	DatabaseURL string

	// Application configuration
	ProfilesDir       string
	Port              string
	BaseUrl           string
	WorkerCount       int
	SchedulerInterval int
	TaskTimeout       int
	APIAccessKey      string
	Once              bool

	// Remote store configuration
	StoreBackend     string
	DriveCredentials string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3Region         string
	S3UseSSL         bool
	ImageHost        string
	TableHost        string
	RemoteAttempts   int
	RemoteRetryDelay int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
