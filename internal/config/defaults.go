package config

const (
	defaultStagingDir           = "~/.local/share/slate/staging"
	defaultSpoolDir             = "~/.local/share/slate/spool"
	defaultLogDir               = "~/.local/share/slate/logs"
	defaultDevicePath           = "/dev/video0"
	defaultPipelineBinary       = "ffmpeg"
	defaultChunkInterval        = 1
	defaultMinDurationSeconds   = 1
	defaultMimeType             = "video/webm"
	defaultDirection            = "front"
	defaultBinaryBackend        = "api"
	defaultRequestTimeout       = 30
	defaultBackoffBaseSeconds   = 5
	defaultBackoffCapSeconds    = 300
	defaultProbeIntervalSeconds = 15
	defaultNtfyTimeout          = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			SpoolDir:   defaultSpoolDir,
			LogDir:     defaultLogDir,
		},
		Capture: Capture{
			DevicePath:         defaultDevicePath,
			PipelineBinary:     defaultPipelineBinary,
			ChunkInterval:      defaultChunkInterval,
			MinDurationSeconds: defaultMinDurationSeconds,
			MimeType:           defaultMimeType,
			Direction:          defaultDirection,
		},
		Ledger: Ledger{
			BinaryBackend:  defaultBinaryBackend,
			RequestTimeout: defaultRequestTimeout,
		},
		Delivery: Delivery{
			BackoffBaseSeconds:   defaultBackoffBaseSeconds,
			BackoffCapSeconds:    defaultBackoffCapSeconds,
			ProbeIntervalSeconds: defaultProbeIntervalSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
