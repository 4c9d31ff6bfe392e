package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeJobStore()
	c.normalizeWorker()
	c.normalizeLLM()
	c.normalizeMedia()
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeJobStore() {
	c.JobStore.BaseURL = strings.TrimRight(strings.TrimSpace(c.JobStore.BaseURL), "/")
	if token := os.Getenv("SHELFSCAN_JOBSTORE_TOKEN"); token != "" && c.JobStore.AuthToken == "" {
		c.JobStore.AuthToken = token
	}
	if c.JobStore.TimeoutSeconds <= 0 {
		c.JobStore.TimeoutSeconds = defaultJobStoreTimeout
	}
}

func (c *Config) normalizeWorker() {
	c.Worker.ID = strings.TrimSpace(c.Worker.ID)
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = defaultPollInterval
	}
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Worker.ErrorRetryInterval <= 0 {
		c.Worker.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Worker.ErrorRetryMax <= 0 {
		c.Worker.ErrorRetryMax = defaultErrorRetryMax
	}
}

func (c *Config) normalizeLLM() {
	if key := os.Getenv("SHELFSCAN_LLM_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeMedia() {
	if c.Media.SceneThreshold <= 0 {
		c.Media.SceneThreshold = defaultSceneThreshold
	}
	if c.Media.ClusterThreshold <= 0 {
		c.Media.ClusterThreshold = defaultClusterThreshold
	}
	for _, binary := range []*string{
		&c.Media.FFmpegBinary,
		&c.Media.FFprobeBinary,
		&c.Media.BarcodeBinary,
		&c.Media.WhisperBinary,
	} {
		*binary = strings.TrimSpace(*binary)
	}
	if c.Media.FFmpegBinary == "" {
		c.Media.FFmpegBinary = "ffmpeg"
	}
	if c.Media.FFprobeBinary == "" {
		c.Media.FFprobeBinary = "ffprobe"
	}
	if c.Media.BarcodeBinary == "" {
		c.Media.BarcodeBinary = "zbarimg"
	}
	if c.Media.WhisperBinary == "" {
		c.Media.WhisperBinary = "whisper-cli"
	}
	if c.Media.SubprocessTimeout <= 0 {
		c.Media.SubprocessTimeout = defaultSubprocessTimeout
	}
}

func (c *Config) normalizeCache() error {
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = defaultCachePath
	}
	var err error
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
