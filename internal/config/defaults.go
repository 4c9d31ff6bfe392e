package config

const (
	defaultWorkDir            = "~/.local/share/shelfscan/work"
	defaultLogDir             = "~/.local/share/shelfscan/logs"
	defaultCacheDir           = "~/.cache/shelfscan"
	defaultJobStoreTimeout    = 30
	defaultPollInterval       = 5
	defaultHeartbeatInterval  = 15
	defaultErrorRetryInterval = 5
	defaultErrorRetryMax      = 300
	defaultLLMBaseURL         = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel           = "google/gemini-3-flash-preview"
	defaultLLMReferer         = "https://github.com/shelfscan/shelfscan"
	defaultLLMTitle           = "Shelfscan Worker"
	defaultLLMTimeoutSeconds  = 60
	defaultSceneThreshold     = 0.4
	defaultClusterThreshold   = 10
	defaultSubprocessTimeout  = 600
	defaultLogFormat          = "auto"
	defaultLogLevel           = "info"
	defaultCachePath          = "~/.cache/shelfscan/recognition.db"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
			CacheDir: defaultCacheDir,
		},
		JobStore: JobStore{
			TimeoutSeconds: defaultJobStoreTimeout,
		},
		Worker: Worker{
			PollInterval:       defaultPollInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			ErrorRetryMax:      defaultErrorRetryMax,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Media: Media{
			SceneThreshold:    defaultSceneThreshold,
			ClusterThreshold:  defaultClusterThreshold,
			FFmpegBinary:      "ffmpeg",
			FFprobeBinary:     "ffprobe",
			BarcodeBinary:     "zbarimg",
			WhisperBinary:     "whisper-cli",
			WhisperModel:      "base",
			SubprocessTimeout: defaultSubprocessTimeout,
		},
		Cache: Cache{
			Enabled: true,
			Path:    defaultCachePath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
