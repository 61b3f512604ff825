package rxfer

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/derektruong/rxfer/internal/integrity"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultChunkSize        = 5 * 1024 * 1024 // 5MB
	defaultMaxFileSize      = 5 << 40         // 5 TB
	defaultMinFileSize      = 0
	defaultMaxRetryAttempts = 5
	defaultInitialDelay     = 1 * time.Second
	defaultMaxDelay         = 30 * time.Second
	defaultSpoolDirName     = "rxfer-spool"
)

// options holds the configuration shared by every transfer of a Client.
type options struct {
	chunkSize         uint32
	checksumAlgorithm ChecksumAlgorithm
	disabledRetry     bool
	retryConfig       RetryConfig
	rateLimit         float64
	fs                afero.Fs
	spoolDir          string
	fileRule          *fileRule
	meterProvider     metric.MeterProvider
}

func defaultOptions() options {
	return options{
		chunkSize:         defaultChunkSize,
		checksumAlgorithm: ChecksumAlgorithmCRC32,
		retryConfig: RetryConfig{
			MaxRetryAttempts: defaultMaxRetryAttempts,
			InitialDelay:     defaultInitialDelay,
			MaxDelay:         defaultMaxDelay,
		},
		fs:       afero.NewOsFs(),
		spoolDir: filepath.Join(os.TempDir(), defaultSpoolDirName),
		fileRule: new(fileRule),
	}
}

type Option func(*options)

// WithChunkSize sets the size of the chunks new transfers are split into.
// Default is 5MB. A transfer resumed from a persisted state keeps the chunk
// size it was created with.
func WithChunkSize(size uint32) Option {
	if size == 0 {
		size = defaultChunkSize
	}
	return func(o *options) {
		o.chunkSize = size
	}
}

// ChecksumAlgorithm identifies the algorithm of the integrity token.
type ChecksumAlgorithm = integrity.Algorithm

const (
	// ChecksumAlgorithmCRC32 is the cyclic redundancy check (CRC32) checksum algorithm.
	// It is the default checksum algorithm, suitable for large files (> 1GB, fast, less secure).
	ChecksumAlgorithmCRC32 = integrity.CRC32
	// ChecksumAlgorithmMD5 is the message-digest algorithm 5 (MD5) checksum algorithm.
	// It is suitable for general files (< 1GB, moderate speed, more secure)
	ChecksumAlgorithmMD5 = integrity.MD5
	// ChecksumAlgorithmSHA256 is the secure hash algorithm 256 (SHA-256) checksum algorithm.
	// It is suitable for sensitive files (slow, most secure)
	ChecksumAlgorithmSHA256 = integrity.SHA256
	// ChecksumAlgorithmXXHash64 is the 64-bit xxHash algorithm, the fastest
	// choice when the token only guards against accidental changes.
	ChecksumAlgorithmXXHash64 = integrity.XXHash64
)

// WithChecksumAlgorithm sets the checksum algorithm of new transfers.
// It is recommended to use the default checksum algorithm (CRC32) unless
// there is a specific requirement for a different algorithm. Unknown
// algorithms are ignored.
func WithChecksumAlgorithm(algorithm ChecksumAlgorithm) Option {
	return func(o *options) {
		if algorithm.Valid() {
			o.checksumAlgorithm = algorithm
		}
	}
}

// WithDisabledRetry disables the retry of failed chunks.
// Default is false (enabled). If disabled, a transient failure is returned
// at once, regardless of setting WithRetryConfig option.
func WithDisabledRetry() Option {
	return func(o *options) {
		o.disabledRetry = true
	}
}

// RetryConfig defines the retry configuration of chunk transfers.
type RetryConfig struct {
	// MaxRetryAttempts is the maximum number of retry attempts, default = 5.
	MaxRetryAttempts int
	// InitialDelay is the initial delay before the first retry, default = 1 second.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries, default = 30 seconds.
	MaxDelay time.Duration
}

// WithRetryConfig sets the retry configuration of chunk transfers.
// Support partial configuration, default values will be used if not set.
func WithRetryConfig(config RetryConfig) Option {
	if config.MaxRetryAttempts <= 0 {
		config.MaxRetryAttempts = defaultMaxRetryAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaultInitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaultMaxDelay
	}
	return func(o *options) {
		o.retryConfig = config
	}
}

// WithRateLimit caps the throughput of each transfer in bytes per second.
// Default is 0 (no limit).
func WithRateLimit(bytesPerSec float64) Option {
	return func(o *options) {
		o.rateLimit = max(0, bytesPerSec)
	}
}

// WithFs sets the filesystem local files are read from and written to.
// Default is the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		if fs != nil {
			o.fs = fs
		}
	}
}

// WithMeterProvider sets the provider the Client registers its counters
// with. Default is the global provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = provider
	}
}

// WithSpoolDir sets the directory in-memory upload bodies are spooled to.
// Default is "rxfer-spool" in the OS temporary directory.
func WithSpoolDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.spoolDir = dir
		}
	}
}

// WithMaxFileSize sets the maximum file size allowed for upload.
// Default is 0 (no limit).
func WithMaxFileSize(size int64) Option {
	if size <= 0 {
		size = defaultMaxFileSize
	}
	return func(o *options) {
		o.fileRule.MaxFileSize = size
	}
}

// WithMinFileSize sets the minimum file size required for upload.
// Default is 0 (no limit).
func WithMinFileSize(size int64) Option {
	if size <= 0 {
		size = defaultMinFileSize
	}
	return func(o *options) {
		o.fileRule.MinFileSize = size
	}
}

// WithExtensionWhitelist sets the list of allowed file extensions for upload.
// Default is empty (no restriction).
func WithExtensionWhitelist(extensions ...string) Option {
	return func(o *options) {
		o.fileRule.ExtensionWhitelist = extensions
	}
}

// WithExtensionBlacklist sets the list of blocked file extensions for upload.
// Default is empty (no restriction).
func WithExtensionBlacklist(extensions ...string) Option {
	return func(o *options) {
		o.fileRule.ExtensionBlacklist = extensions
	}
}

// WithModifiedAfter sets the minimum modified time required for upload.
// Default is zero (no restriction).
func WithModifiedAfter(modTime time.Time) Option {
	return func(o *options) {
		o.fileRule.ModifiedAfter = modTime
	}
}

// WithModifiedBefore sets the maximum modified time required for upload.
// Default is zero (no restriction).
func WithModifiedBefore(modTime time.Time) Option {
	return func(o *options) {
		o.fileRule.ModifiedBefore = modTime
	}
}

// WithFileNamePattern sets the regular expression pattern for file names.
// Default is nil (no restriction).
func WithFileNamePattern(pattern *regexp.Regexp) Option {
	return func(o *options) {
		o.fileRule.FileNamePattern = pattern
	}
}
