package engine

import (
	"errors"
	"fmt"

	"github.com/eser/ajan/logfx"

	"github.com/WarriorSushi/speedstein/pkg/api/business/pools"
)

var ErrUnknownProvider = errors.New("unknown engine provider")

type ProviderFn = func(config *Config, logger *logfx.Logger) pools.EngineFactory

var providers = map[string]ProviderFn{
	ProviderProcess: NewProcessFactory,
	ProviderEcho:    NewEchoFactory,
}

// NewFactory resolves the configured provider into an engine factory.
func NewFactory(config *Config, logger *logfx.Logger) (pools.EngineFactory, error) {
	providerFn, okProviderFn := providers[config.Provider]
	if !okProviderFn {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, config.Provider)
	}

	return providerFn(config, logger), nil
}
