package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return err
	}
	if c.Storage.RootDir, err = expandPath(c.Storage.RootDir); err != nil {
		return err
	}

	c.Storage.FinalVideoScope = strings.Trim(strings.TrimSpace(c.Storage.FinalVideoScope), "/")
	c.Storage.UnitCacheScope = strings.Trim(strings.TrimSpace(c.Storage.UnitCacheScope), "/")
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	c.Provider.APIKey = strings.TrimSpace(c.Provider.APIKey)
	c.Provider.Model = strings.TrimSpace(c.Provider.Model)
	c.Render.VideoCodec = strings.TrimSpace(c.Render.VideoCodec)
	c.Render.AudioCodec = strings.TrimSpace(c.Render.AudioCodec)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}
