// Package backend provides the text generators behind the responder:
// an external script, an OpenAI-compatible chat API, or an agentsdk-go runtime.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stellarlinkco/autoreply/internal/config"
	"github.com/stellarlinkco/autoreply/internal/responder"
)

// ErrUnavailable means the backend cannot be invoked at all.
var ErrUnavailable = errors.New("generation backend unavailable")

// New returns the generator selected by cfg.Backend.Type.
func New(cfg *config.Config) (responder.Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend.Type)) {
	case "", config.BackendProcess:
		return NewProcess(cfg.Backend.Command, cfg.Backend.Args, cfg.Backend.Script), nil
	case config.BackendOpenAI:
		model := cfg.Backend.Model
		if model == config.DefaultModel {
			model = config.DefaultOpenAIModel
		}
		return NewOpenAI(OpenAIConfig{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			Model:     model,
			MaxTokens: cfg.Backend.MaxTokens,
		})
	case config.BackendAgent:
		return NewAgent(cfg, DefaultRuntimeFactory)
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}
