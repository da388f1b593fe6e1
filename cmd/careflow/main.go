// Command careflow runs the consultation service: a WebSocket front end over
// the routing graph, with Redis session checkpoints and a Supabase long-term
// profile store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"

	"github.com/careflow-ai/careflow"
	"github.com/careflow-ai/careflow/capability"
	"github.com/careflow-ai/careflow/checkpoint"
	"github.com/careflow-ai/careflow/config"
	"github.com/careflow-ai/careflow/logging"
	"github.com/careflow-ai/careflow/model"
	"github.com/careflow-ai/careflow/model/anthropic"
	"github.com/careflow-ai/careflow/model/openai"
	"github.com/careflow-ai/careflow/profile"
	"github.com/careflow-ai/careflow/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "careflow:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)

	reasoner, decider, err := newModels(cfg)
	if err != nil {
		return err
	}

	endpoint := capability.NewHTTPEndpoint(cfg.Capabilities.URL)
	pool := capability.NewPool(endpoint, func(o *capability.PoolOptions) {
		o.Logger = logger
	})
	capability.SetDefault(pool)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pool.Initialize(initCtx); err != nil {
		// The pool retries lazily on first use; a cold capability endpoint
		// must not keep the whole service down.
		logger.Warn("main.capabilities_unavailable", "error", err)
	}

	profiles, err := newProfileStore(cfg, logger)
	if err != nil {
		return err
	}

	checkpoints, err := newCheckpointStore(cfg, profiles, logger)
	if err != nil {
		return err
	}

	cf := careflow.New(func(o *careflow.Options) {
		o.Reasoner = reasoner
		o.Decider = decider
		o.Capabilities = pool
		o.Checkpoints = checkpoints
		o.Profiles = profiles
		o.Logger = logger
	})
	defer cf.Close()

	srv := server.New(cf.Runner(), func(o *server.Options) {
		o.Logger = logger
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(cfg.Server.Addr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("main.shutdown", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) logging.Logger {
	level := logging.LogLevelInfo
	switch cfg.Level {
	case "debug":
		level = logging.LogLevelDebug
	case "warn":
		level = logging.LogLevelWarn
	case "error":
		level = logging.LogLevelError
	}
	if cfg.JSON {
		return logging.NewJSONLogger(os.Stdout, level)
	}
	return logging.NewDefaultSlogLogger()
}

func newModels(cfg *config.Config) (model.Model, model.Model, error) {
	switch cfg.Provider {
	case "openai":
		client := openaisdk.NewClient(option.WithAPIKey(cfg.OpenAIKey))
		reasoner := openai.NewModelFromClient(&client, func(o *openai.Options) {
			if cfg.ReasoningModel != "" {
				o.Model = cfg.ReasoningModel
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = int64(cfg.MaxTokens)
		})
		decider := openai.NewModelFromClient(&client, func(o *openai.Options) {
			if cfg.DecisionModel != "" {
				o.Model = cfg.DecisionModel
			}
			o.Temperature = 0
		})
		return reasoner, decider, nil

	case "anthropic":
		reasoner := anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.AnthropicKey
			if cfg.ReasoningModel != "" {
				o.Model = anthropicsdk.Model(cfg.ReasoningModel)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
		})
		decider := anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.AnthropicKey
			if cfg.DecisionModel != "" {
				o.Model = anthropicsdk.Model(cfg.DecisionModel)
			}
			o.Temperature = 0
		})
		return reasoner, decider, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newProfileStore(cfg *config.Config, logger logging.Logger) (profile.Store, error) {
	if cfg.Supabase.URL == "" {
		logger.Warn("main.profile_store_in_memory")
		return profile.NewMemoryStore(), nil
	}
	return profile.NewSupabaseStore(profile.SupabaseConfig{
		URL:    cfg.Supabase.URL,
		APIKey: cfg.Supabase.APIKey,
		Table:  cfg.Supabase.Table,
	})
}

func newCheckpointStore(cfg *config.Config, profiles profile.Store, logger logging.Logger) (checkpoint.Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return checkpoint.NewRedisStore(client, profiles, func(o *checkpoint.RedisOptions) {
		o.TTL = time.Duration(cfg.Redis.SessionTTLHours) * time.Hour
		o.Logger = logger
	}), nil
}
