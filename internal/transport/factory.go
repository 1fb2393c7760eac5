package transport

import "github.com/rs/zerolog"

// Factory builds a fresh Transport for each page view
type Factory struct {
	realtimeURL string
	logger      zerolog.Logger
}

func NewFactory(realtimeURL string, logger zerolog.Logger) *Factory {
	return &Factory{realtimeURL: realtimeURL, logger: logger}
}

func (f *Factory) New() Transport {
	return NewClient(f.realtimeURL, f.logger)
}
