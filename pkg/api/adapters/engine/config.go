package engine

import "time"

const (
	ProviderProcess = "process"
	ProviderEcho    = "echo"
)

type Config struct {
	Provider string `conf:"PROVIDER" default:"process"`

	Command string `conf:"COMMAND" default:"speedstein-renderer"`
	Args    string `conf:"ARGS" default:""`

	StartTimeout time.Duration `conf:"START_TIMEOUT" default:"10s"`
	StopGrace    time.Duration `conf:"STOP_GRACE" default:"3s"`
}
