package main

import "time"

// =============================================================================
// Streaming
// =============================================================================

const (
	MJPEGStreamIntervalMS = 100 // preview frames refresh at 10 Hz
	MJPEGNoFrameTimeout   = 50  // Disconnect after 50 missed frames
	StatusPushInterval    = 2 * time.Second
	StreamTokenTTL        = 10 * time.Minute
	StreamLogInterval     = 100 // Log stream stats every 100 frames
)

// =============================================================================
// Server Timeouts
// =============================================================================

const (
	ServerReadTimeout       = 30 * time.Second  // 30s max to read entire request body
	ServerIdleTimeout       = 120 * time.Second // 2min max idle before closing connection
	ServerReadHeaderTimeout = 10 * time.Second  // 10s max to read HTTP headers
	ServerWriteTimeout      = 0                 // 0 = no timeout (needed for long video streams)
	ServerShutdownTimeout   = 10 * time.Second
	HTTPMaxHeaderBytes      = 1 << 20 // 1MB = maximum HTTP header size
	MaxConfigBodyBytes      = 64 << 10
)

// =============================================================================
// Storage and Data Conversions
// =============================================================================

const (
	BytesPerKB = 1024
	BytesPerMB = 1024 * 1024
	BytesPerGB = 1024 * 1024 * 1024

	StorageCheckInterval = 30 * time.Second
	StorageStatsCacheTTL = 5 * time.Second
)

// =============================================================================
// Default Configuration Values
// =============================================================================

const (
	DefaultPort           = 8080
	DefaultStorageCapGB   = 10
	DefaultSegmentLengthS = 2
	DefaultWindowS        = 30
	DefaultMode           = "mobile"

	DefaultVideoFPS       = 24
	DefaultVideoWidth     = 1280
	DefaultVideoHeight    = 720
	DefaultMJPEGQuality   = 8    // 2-31 scale, lower is better, 8=good balance
	DefaultEmbedTimestamp = true // Embed timestamp by default
	DefaultCameraBackend  = "auto"
	DefaultCameraDevice   = "/dev/video0"

	DefaultDatabaseDriver = "sqlite3"
	DefaultDatabaseFile   = "events.db"
	DefaultBucket         = "events"
)

// =============================================================================
// Event saving
// =============================================================================

const (
	SaveTimeout    = 60 * time.Second
	PublishTimeout = 5 * time.Minute
	ThumbnailExt   = ".jpg"
)
