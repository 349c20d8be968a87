package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.Paths.SocketPath == "" {
		return errors.New("paths.socket_path must be set")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.RootDir == "" {
		return errors.New("storage.root_dir must be set")
	}
	if c.Storage.PresignTTL <= 0 {
		return errors.New("storage.presign_ttl_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRender() error {
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render resolution %dx%d is invalid", c.Render.Width, c.Render.Height)
	}
	if c.Render.FPS <= 0 {
		return errors.New("render.fps must be positive")
	}
	if c.Render.VideoCodec == "" || c.Render.AudioCodec == "" {
		return errors.New("render codecs must be set")
	}
	if c.Render.KenBurnsMaxZoom < 1.0 {
		return errors.New("render.ken_burns_max_zoom must be >= 1.0")
	}
	if c.Render.TrimFrames < 0 {
		return errors.New("render.trim_frames must not be negative")
	}
	if c.Render.BGMVolume < 0 || c.Render.BGMVolume > 1 {
		return errors.New("render.bgm_volume must be between 0 and 1")
	}
	if c.Render.GenerateConcurrency <= 0 {
		return errors.New("render.generate_concurrency must be positive")
	}
	if c.Render.DownloadConcurrency <= 0 {
		return errors.New("render.download_concurrency must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 || c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow heartbeat settings must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format %q is unsupported (use console or json)", c.Logging.Format)
	}
	return nil
}
