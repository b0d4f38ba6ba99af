package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("PageSponge", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("address", config.Server.Host).
		Int("port", config.Server.Port).
		Str("extraction_mode", config.Extraction.Mode).
		Str("upload_endpoint", config.Upload.Endpoint).
		Int("max_concurrency", config.Queue.MaxConcurrency).
		Int("max_retries", config.Queue.MaxRetries).
		Msg("PageSponge starting")
}
