package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateJobStore(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateMedia(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateJobStore() error {
	if c.JobStore.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/shelfscan/config.toml"
		}
		return fmt.Errorf("jobstore.base_url is required. Edit %s (create with 'shelfscan config init')", defaultPath)
	}
	if c.JobStore.AuthToken == "" {
		return errors.New("jobstore.auth_token is required. Set SHELFSCAN_JOBSTORE_TOKEN env var or edit the config file")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.HeartbeatInterval >= c.Worker.ErrorRetryMax {
		return errors.New("worker.heartbeat_interval must be below worker.error_retry_max")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.APIKey == "" {
		return errors.New("llm.api_key is required. Set SHELFSCAN_LLM_API_KEY env var or edit the config file")
	}
	return nil
}

func (c *Config) validateMedia() error {
	if c.Media.SceneThreshold <= 0 || c.Media.SceneThreshold > 1 {
		return errors.New("media.scene_threshold must be in (0, 1]")
	}
	if c.Media.ClusterThreshold < 1 || c.Media.ClusterThreshold > 64 {
		return errors.New("media.cluster_threshold must be between 1 and 64")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
}
