package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/api/option"

	"github.com/shaharia-lab/copilot"
	"github.com/shaharia-lab/copilot/agent"
	"github.com/shaharia-lab/copilot/config"
	"github.com/shaharia-lab/copilot/observability"
)

// app holds everything a command needs, built once from the configuration.
type app struct {
	cfg      *config.Config
	logger   observability.Logger
	provider copilot.LLMProvider
	storage  copilot.ChatHistoryStorage
	metrics  *observability.Metrics
	registry *prometheus.Registry

	closers []io.Closer
	server  *http.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := observability.NewLogger(cfg.Logging.Backend, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	a.metrics, err = observability.NewMetrics(a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if a.provider, err = a.newProvider(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.storage, err = a.newStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) newProvider(ctx context.Context) (copilot.LLMProvider, error) {
	p := a.cfg.Provider

	var provider copilot.LLMProvider
	switch p.Name {
	case "gemini":
		var opts []option.ClientOption
		if p.BaseURL != "" {
			opts = append(opts, option.WithEndpoint(p.BaseURL))
		}
		service, err := copilot.NewGoogleGeminiService(ctx, p.APIKey, p.Model, opts...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, service)
		gemini, err := copilot.NewGeminiProvider(service, a.logger)
		if err != nil {
			return nil, err
		}
		provider = gemini
	case "openai":
		var opts []openaioption.RequestOption
		if p.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(p.BaseURL))
		}
		provider = copilot.NewOpenAILLMProvider(copilot.OpenAIProviderConfig{
			Client: copilot.NewOpenAIClient(p.APIKey, opts...),
			Model:  openai.ChatModel(p.Model),
		})
	case "anthropic":
		var opts []anthropicoption.RequestOption
		if p.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(p.BaseURL))
		}
		provider = copilot.NewAnthropicLLMProvider(copilot.AnthropicProviderConfig{
			Client: copilot.NewAnthropicClient(p.APIKey, opts...),
			Model:  anthropic.Model(p.Model),
		})
	case "bedrock":
		client, err := copilot.NewBedrockClient(ctx, p.Region)
		if err != nil {
			return nil, err
		}
		provider = copilot.NewBedrockLLMProvider(copilot.BedrockProviderConfig{Client: client, Model: p.Model})
	case "noop":
		provider = copilot.NewNoOpsLLMProvider(copilot.WithEcho())
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}

	if a.cfg.RateLimit.RequestsPerSecond > 0 {
		provider = copilot.NewRateLimitedLLMProvider(provider, a.cfg.RateLimit.RequestsPerSecond, a.cfg.RateLimit.Burst)
	}
	return copilot.NewTracingLLMProvider(p.Name, provider), nil
}

func (a *app) newStorage(ctx context.Context) (copilot.ChatHistoryStorage, error) {
	switch a.cfg.Storage.Driver {
	case "memory":
		return copilot.NewInMemoryChatHistoryStorage(), nil
	case "sqlite":
		storage, err := copilot.NewSQLiteChatHistoryStorage(a.cfg.Storage.DSN, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, storage)
		return storage, nil
	case "postgres":
		storage, err := copilot.OpenPostgresChatHistoryStorage(ctx, a.cfg.Storage.DSN, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, storage)
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

func (a *app) requestConfig() copilot.LLMRequestConfig {
	g := a.cfg.Generation
	return copilot.NewRequestConfig(
		copilot.WithTemperature(*g.Temperature),
		copilot.WithTopP(*g.TopP),
		copilot.WithTopK(*g.TopK),
		copilot.WithMaxToken(g.MaxOutputTokens),
	)
}

func (a *app) retryPolicy() copilot.RetryPolicy {
	r := a.cfg.Retry
	return copilot.RetryPolicy{
		MaxRetries:        *r.MaxRetries,
		InitialDelay:      *r.InitialDelay,
		BackoffMultiplier: r.BackoffMultiplier,
	}
}

func (a *app) sessionOptions() []copilot.SessionOption {
	s := a.cfg.Session
	return []copilot.SessionOption{
		copilot.WithContextWindowLimit(s.ContextWindowLimit),
		copilot.WithWarningRatio(s.WarningRatio),
		copilot.WithRequestTimeout(s.RequestTimeout),
		copilot.WithSystemInstruction(s.SystemInstruction),
		copilot.WithRequestConfig(a.requestConfig()),
		copilot.WithRetryPolicy(a.retryPolicy()),
		copilot.WithSessionLogger(a.logger),
		copilot.WithMetrics(a.metrics),
	}
}

func (a *app) agentOptions() []agent.Option {
	requestConfig := a.requestConfig()
	requestConfig.JSONResponse = true
	return []agent.Option{
		agent.WithRequestConfig(requestConfig),
		agent.WithRetryPolicy(a.retryPolicy()),
		agent.WithLogger(a.logger),
	}
}

// serveMetrics exposes the registry on addr until Close.
func (a *app) serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithErr(err).Errorf("metrics server on %s stopped", addr)
		}
	}()
	a.logger.Infof("serving metrics on %s/metrics", addr)
}

func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.WithErr(err).Warn("failed to close resource")
		}
	}
}
