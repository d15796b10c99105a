// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// runtime.go - Wiring shared by every command: configuration, logging,
// the conversation store, the provider client and the controller.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/chatterm/internal/cloud"
	"github.com/jeranaias/chatterm/internal/config"
	"github.com/jeranaias/chatterm/internal/logging"
	"github.com/jeranaias/chatterm/internal/session"
	"github.com/jeranaias/chatterm/internal/storage"
)

// =============================================================================
// RUNTIME OPTIONS
// =============================================================================

// RuntimeOptions select the configuration and overrides for one run.
type RuntimeOptions struct {
	// ConfigPath loads this file instead of the default location.
	ConfigPath string

	// Model overrides provider.model.
	Model string

	// Backend overrides storage.backend.
	Backend string

	// SkipDotEnv disables loading .env files.
	SkipDotEnv bool

	// Completer replaces the HTTP client. Config reloads then leave the
	// completer alone.
	Completer cloud.Completer

	// ControllerOptions are appended to the options built from config.
	ControllerOptions []session.Option

	// Logger replaces the logger built from config.
	Logger *zerolog.Logger
}

// =============================================================================
// RUNTIME
// =============================================================================

// Runtime owns everything a command needs to talk to the conversation.
type Runtime struct {
	Controller *session.Controller
	Store      *storage.ConversationStore

	mu         sync.Mutex
	cfg        *config.Config
	configPath string
	keySource  string
	opts       RuntimeOptions
	logCloser  io.Closer
	closeOnce  sync.Once
}

// OpenRuntime loads configuration, sets up logging, opens the store and
// builds the controller. A storage backend that cannot be opened is
// replaced by an in-memory one so the session still works.
func OpenRuntime(opts RuntimeOptions) (*Runtime, error) {
	var dotEnvErr error
	if !opts.SkipDotEnv {
		_, dotEnvErr = config.LoadDotEnv(config.DotEnvFiles()...)
	}

	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	r := &Runtime{cfg: cfg, configPath: path, opts: opts}

	if opts.Logger != nil {
		log.Logger = *opts.Logger
		r.logCloser = io.NopCloser(nil)
	} else {
		closer, err := logging.Setup(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to set up logging: %w", err)
		}
		r.logCloser = closer
	}
	if dotEnvErr != nil {
		log.Warn().Err(dotEnvErr).Msg("could not load .env file")
	}

	r.Store = openStore(cfg)

	completer := opts.Completer
	if completer == nil {
		completer = r.newClient(cfg)
	}

	ctrlOpts := []session.Option{
		session.WithRevealDelay(cfg.RevealDelay()),
		session.WithPersistInterval(cfg.PersistInterval()),
		session.WithLogger(log.Logger),
	}
	r.Controller = session.NewController(completer, r.Store, append(ctrlOpts, opts.ControllerOptions...)...)

	config.SetGlobal(cfg)
	return r, nil
}

// loadConfig reads the config file named in opts, or the default one, and
// applies the command-line overrides on top.
func loadConfig(opts RuntimeOptions) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path = opts.ConfigPath
		err  error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
		if p, pathErr := config.ConfigPath(); pathErr == nil {
			path = p
		}
	}
	if err != nil {
		return nil, "", err
	}

	if err := applyOverrides(cfg, opts); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// applyOverrides puts the command-line flags on top of cfg.
func applyOverrides(cfg *config.Config, opts RuntimeOptions) error {
	if opts.Model == "" && opts.Backend == "" {
		return nil
	}
	if opts.Model != "" {
		cfg.Provider.Model = opts.Model
	}
	if opts.Backend != "" {
		cfg.Storage.Backend = opts.Backend
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

func openStore(cfg *config.Config) *storage.ConversationStore {
	var kv storage.KV
	backend, err := cfg.StorageBackend()
	if err == nil {
		var path string
		if path, err = cfg.StoragePath(); err == nil {
			kv, err = storage.Open(backend, path)
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("backend", string(backend)).
			Msg("storage unavailable, conversation will not be saved")
		kv = storage.NewMemoryKV()
	}
	return storage.NewConversationStore(kv,
		storage.WithKey(cfg.Storage.Key),
		storage.WithLogger(log.Logger),
	)
}

// newClient builds the provider client from cfg. Only the name of the
// variable holding the key is logged.
func (r *Runtime) newClient(cfg *config.Config) *cloud.Client {
	key, source := cfg.APIKey()
	if key == "" {
		log.Warn().Str("env", cfg.Provider.APIKeyEnv).Msg("no API key in environment")
	} else {
		log.Debug().Str("env", source).Msg("API key loaded")
	}
	r.mu.Lock()
	r.keySource = source
	r.mu.Unlock()

	return cloud.NewClient(key, cfg.CloudConfig(),
		cloud.WithKeyEnv(cfg.Provider.APIKeyEnv),
		cloud.WithLogger(log.Logger),
	)
}

// Config returns the configuration currently in effect.
func (r *Runtime) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// ConfigPath returns the file the configuration was read from.
func (r *Runtime) ConfigPath() string {
	return r.configPath
}

// KeySource returns the variable the API key came from, or "".
func (r *Runtime) KeySource() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keySource
}

// =============================================================================
// CONFIG RELOAD
// =============================================================================

// Apply switches the controller to cfg for the next turn. Storage
// settings only take effect on restart.
func (r *Runtime) Apply(cfg *config.Config) {
	r.Controller.SetRevealDelay(cfg.RevealDelay())
	r.Controller.SetPersistInterval(cfg.PersistInterval())
	if r.opts.Completer == nil {
		r.Controller.SetCompleter(r.newClient(cfg))
	}

	r.mu.Lock()
	prev := r.cfg
	r.cfg = cfg
	r.mu.Unlock()

	if prev.Storage != cfg.Storage {
		log.Info().Msg("storage settings changed; restart to apply")
	}
	config.SetGlobal(cfg)
}

// Watch reloads the config file whenever it changes until ctx is done.
// notify receives a short description of every reload attempt.
func (r *Runtime) Watch(ctx context.Context, notify func(text string, isErr bool)) {
	if r.configPath == "" {
		return
	}
	if notify == nil {
		notify = func(string, bool) {}
	}
	err := config.Watch(ctx, r.configPath, func(cfg *config.Config, err error) {
		if err != nil {
			log.Warn().Err(err).Str("path", r.configPath).Msg("config reload failed")
			notify("Config reload failed: "+err.Error(), true)
			return
		}
		if err := applyOverrides(cfg, r.opts); err != nil {
			notify("Config reload failed: "+err.Error(), true)
			return
		}
		r.Apply(cfg)
		log.Info().Str("path", r.configPath).Msg("config reloaded")
		notify("Config reloaded", false)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Msg("config watcher not started")
	}
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Close stops any reply in flight, saves the conversation and releases
// the store and the log file.
func (r *Runtime) Close() error {
	var errs []error
	r.closeOnce.Do(func() {
		if err := r.Controller.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		if err := r.logCloser.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close log: %w", err))
		}
	})
	return errors.Join(errs...)
}
