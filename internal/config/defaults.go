package config

const (
	defaultStagingDir          = "~/.local/share/montage/staging"
	defaultLogDir              = "~/.local/share/montage/logs"
	defaultSocketPath          = "~/.local/share/montage/montaged.sock"
	defaultStorageRootDir      = "~/.local/share/montage/store"
	defaultPresignTTL          = 3600
	defaultFinalVideoScope     = "videos"
	defaultUnitCacheScope      = "units"
	defaultProviderPollSecs    = 5
	defaultProviderPollTimeout = 600
	defaultProviderReqTimeout  = 30
	defaultRenderWidth         = 720
	defaultRenderHeight        = 1280
	defaultRenderFPS           = 30
	defaultVideoCodec          = "libx264"
	defaultAudioCodec          = "aac"
	defaultKenBurnsMaxZoom     = 1.15
	defaultTrimFrames          = 35
	defaultBGMVolume           = 0.3
	defaultGenerateConcurrency = 3
	defaultDownloadConcurrency = 10
	defaultMinFreeGiB          = 2
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultStagingMaxAgeHours  = 24
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			SocketPath: defaultSocketPath,
		},
		Storage: Storage{
			RootDir:         defaultStorageRootDir,
			PresignTTL:      defaultPresignTTL,
			UploadVerified:  true,
			FinalVideoScope: defaultFinalVideoScope,
			UnitCacheScope:  defaultUnitCacheScope,
		},
		Provider: Provider{
			PollInterval:   defaultProviderPollSecs,
			PollTimeout:    defaultProviderPollTimeout,
			RequestTimeout: defaultProviderReqTimeout,
		},
		Render: Render{
			Width:               defaultRenderWidth,
			Height:              defaultRenderHeight,
			FPS:                 defaultRenderFPS,
			VideoCodec:          defaultVideoCodec,
			AudioCodec:          defaultAudioCodec,
			KenBurnsMaxZoom:     defaultKenBurnsMaxZoom,
			TrimFrames:          defaultTrimFrames,
			Dedupe:              true,
			BGMVolume:           defaultBGMVolume,
			GenerateConcurrency: defaultGenerateConcurrency,
			DownloadConcurrency: defaultDownloadConcurrency,
			SubtitlesEnabled:    false,
			MinFreeGiB:          defaultMinFreeGiB,
		},
		Workflow: Workflow{
			QueuePollInterval:  5,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			StagingMaxAgeHours: defaultStagingMaxAgeHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
