package backend

import (
	"context"
	"fmt"
	"os"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/google/uuid"
	"github.com/stellarlinkco/autoreply/internal/config"
	"github.com/stellarlinkco/autoreply/internal/responder"
)

// Runtime interface for agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

// runtimeAdapter wraps api.Runtime to implement Runtime interface
type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(cfg *config.Config, sysPrompt string) (Runtime, error)

// DefaultRuntimeFactory creates the default agentsdk-go runtime
func DefaultRuntimeFactory(cfg *config.Config, sysPrompt string) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Backend.Model,
			MaxTokens: cfg.Backend.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Backend.Model,
			MaxTokens: cfg.Backend.MaxTokens,
		}
	}

	workspace := config.ConfigDir()
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

// Agent generates replies through an agentsdk-go runtime. Every call runs in a
// fresh session: the prompt already carries the contact's recent history.
type Agent struct {
	rt Runtime
}

func NewAgent(cfg *config.Config, factory RuntimeFactory) (*Agent, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("agent backend: api key is required")
	}
	if factory == nil {
		factory = DefaultRuntimeFactory
	}
	rt, err := factory(cfg, Persona)
	if err != nil {
		return nil, err
	}
	return &Agent{rt: rt}, nil
}

func (a *Agent) Generate(ctx context.Context, req responder.Request) (string, error) {
	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	resp, err := a.rt.Run(ctx, api.Request{
		Prompt:    BuildPrompt(req),
		SessionID: "autoreply-" + id,
		RequestID: id,
	})
	if err != nil {
		return "", fmt.Errorf("agent run: %w", err)
	}
	if resp == nil || resp.Result == nil {
		return "", responder.ErrEmptyOutput
	}
	return resp.Result.Output, nil
}

func (a *Agent) Close() {
	a.rt.Close()
}
