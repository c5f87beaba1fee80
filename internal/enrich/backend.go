package enrich

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/prepstack/enrich-cli/internal/config"
	"github.com/prepstack/enrich-cli/internal/model"
	"github.com/prepstack/enrich-cli/internal/resilience"
	"github.com/prepstack/enrich-cli/pkg/anthropic"
	"github.com/prepstack/enrich-cli/pkg/ollama"
	"github.com/prepstack/enrich-cli/pkg/openai"
)

// Mode selects how a backend produces a record.
type Mode int

const (
	// ModeSingle sends one prompt and expects the whole record as one JSON
	// blob (hosted chat-completion backends).
	ModeSingle Mode = iota
	// ModeMultiStep generates the record field group by field group (local
	// inference backends).
	ModeMultiStep
)

// GenOptions carries per-call decoding options.
type GenOptions struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	System      string
}

// Generator is the capability set every backend variant implements: issue a
// generation request under a timeout and return the raw text output.
type Generator interface {
	Name() model.Backend
	Mode() Mode
	Ping(ctx context.Context) error
	Generate(ctx context.Context, prompt string, opts GenOptions) (string, error)
}

// ForConfig maps a configured backend name to a Generator variant.
func ForConfig(cfg *config.Config, backend model.Backend, mdl string) (Generator, error) {
	switch backend {
	case model.BackendOpenAI:
		if mdl == "" {
			mdl = cfg.OpenAI.Model
		}
		client := openai.NewClient(cfg.OpenAI.Key,
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithTimeout(cfg.Enrich.RequestTimeout()),
		)
		return &openaiGenerator{client: client, apiKey: cfg.OpenAI.Key, model: mdl}, nil

	case model.BackendAnthropic:
		if mdl == "" {
			mdl = cfg.Anthropic.Model
		}
		return &anthropicGenerator{
			client: anthropic.NewClient(cfg.Anthropic.Key,
				anthropic.WithTimeout(cfg.Enrich.RequestTimeout()),
			),
			apiKey: cfg.Anthropic.Key,
			model:  mdl,
		}, nil

	case model.BackendOllama:
		if mdl == "" {
			mdl = cfg.Ollama.Model
		}
		client := ollama.NewClient(
			ollama.WithBaseURL(cfg.Ollama.BaseURL),
			ollama.WithTimeout(cfg.Ollama.Timeout()),
			ollama.WithRetry(resilience.RetryConfig{
				MaxAttempts: cfg.Ollama.MaxRetries,
				BaseDelay:   cfg.Ollama.RetryDelay(),
			}),
		)
		return &ollamaGenerator{client: client, model: mdl}, nil

	default:
		return nil, eris.Errorf("enrich: unsupported backend %q", backend)
	}
}

// --- OpenAI (hosted, single-shot) ---

type openaiGenerator struct {
	client openai.Client
	apiKey string
	model  string
}

func (g *openaiGenerator) Name() model.Backend { return model.BackendOpenAI }
func (g *openaiGenerator) Mode() Mode          { return ModeSingle }

func (g *openaiGenerator) Ping(context.Context) error {
	if strings.TrimSpace(g.apiKey) == "" {
		return eris.Wrap(resilience.ErrBackendUnreachable, "enrich: openai API key not configured")
	}
	return nil
}

func (g *openaiGenerator) Generate(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	msgs := make([]openai.Message, 0, 2)
	if opts.System != "" {
		msgs = append(msgs, openai.Message{Role: "system", Content: opts.System})
	}
	msgs = append(msgs, openai.Message{Role: "user", Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: msgs,
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = &opts.MaxTokens
	}

	resp, err := g.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", eris.New("enrich: openai returned empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// --- Anthropic (hosted, single-shot) ---

type anthropicGenerator struct {
	client anthropic.Client
	apiKey string
	model  string
}

func (g *anthropicGenerator) Name() model.Backend { return model.BackendAnthropic }
func (g *anthropicGenerator) Mode() Mode          { return ModeSingle }

func (g *anthropicGenerator) Ping(context.Context) error {
	if strings.TrimSpace(g.apiKey) == "" {
		return eris.Wrap(resilience.ErrBackendUnreachable, "enrich: anthropic API key not configured")
	}
	return nil
}

func (g *anthropicGenerator) Generate(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	// The messages API has no separate system slot in our usage; the
	// structuring instructions travel in the user prompt.
	if opts.System != "" {
		prompt = opts.System + "\n\n" + prompt
	}

	req := anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: int64(opts.MaxTokens),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 4000
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}

	resp, err := g.client.CreateMessage(ctx, req)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", eris.New("enrich: anthropic returned empty completion")
	}
	return text, nil
}

// --- Ollama (local, multi-step) ---

type ollamaGenerator struct {
	client ollama.Client
	model  string
}

func (g *ollamaGenerator) Name() model.Backend { return model.BackendOllama }
func (g *ollamaGenerator) Mode() Mode          { return ModeMultiStep }

func (g *ollamaGenerator) Ping(ctx context.Context) error {
	if err := g.client.Ping(ctx); err != nil {
		return eris.Wrap(resilience.ErrBackendUnreachable, err.Error())
	}
	return nil
}

func (g *ollamaGenerator) Generate(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	if opts.System != "" {
		prompt = opts.System + "\n\n" + prompt
	}
	return g.client.Generate(ctx, ollama.GenerateRequest{
		Model:  g.model,
		Prompt: prompt,
		Options: ollama.GenerateOptions{
			Temperature:   opts.Temperature,
			TopP:          opts.TopP,
			NumPredict:    opts.MaxTokens,
			RepeatPenalty: 1.1,
		},
	})
}
