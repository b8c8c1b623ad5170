package api_client

import "time"

// Config holds the configuration for the speedstein API client.
type Config struct {
	BaseURL  string        `conf:"BASE_URL" default:"http://localhost:8080"`
	Identity string        `conf:"IDENTITY" default:""`
	Timeout  time.Duration `conf:"TIMEOUT" default:"60s"`
}
