// Package botforge is the top-level entry point for a BotForge application.
//
// Use the Builder to compose an application:
//
//	app, err := botforge.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := botforge.NewBuilder().
//	    WithStore(myStore).
//	    WithLLM(myClient).
//	    WithPublisher(myPublisher).
//	    Build()
package botforge

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jxucoder/botforge/channel"
	"github.com/jxucoder/botforge/engine"
	"github.com/jxucoder/botforge/eventbus"
	"github.com/jxucoder/botforge/gitprovider"
	"github.com/jxucoder/botforge/httpapi"
	"github.com/jxucoder/botforge/llm"
	"github.com/jxucoder/botforge/pipeline"
	"github.com/jxucoder/botforge/store"
)

// Config holds top-level configuration for a BotForge application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.botforge").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// SystemPrompt overrides the generation system prompt.
	SystemPrompt string

	// Engine paces builds and the runtime simulator. Zero fields take the
	// engine defaults.
	Engine engine.Config
}

// ChannelFunc creates a front-end once the engine exists.
type ChannelFunc func(eng *engine.Engine) (channel.Channel, error)

// Builder constructs a BotForge App.
type Builder struct {
	config       Config
	store        store.WorkspaceStore
	bus          eventbus.Bus
	llm          llm.Client
	generator    *pipeline.Generator
	publisher    gitprovider.Publisher
	noPublisher  bool
	channelFuncs []ChannelFunc
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the workspace store implementation.
func (b *Builder) WithStore(s store.WorkspaceStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithLLM sets the completion client used by the generator.
func (b *Builder) WithLLM(client llm.Client) *Builder {
	b.llm = client
	return b
}

// WithGenerator sets a custom generator. It takes precedence over WithLLM.
func (b *Builder) WithGenerator(g *pipeline.Generator) *Builder {
	b.generator = g
	return b
}

// WithPublisher sets the export publisher. A nil publisher disables export
// even when GITHUB_TOKEN is set.
func (b *Builder) WithPublisher(p gitprovider.Publisher) *Builder {
	b.publisher = p
	b.noPublisher = p == nil
	return b
}

// WithChannel adds a front-end (Telegram, Slack, etc.) that needs the engine.
func (b *Builder) WithChannel(fn ChannelFunc) *Builder {
	b.channelFuncs = append(b.channelFuncs, fn)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(b.config.Engine, b.store, b.bus, b.generator, b.publisher)

	var channels []channel.Channel
	for _, fn := range b.channelFuncs {
		ch, err := fn(eng)
		if err != nil {
			return nil, fmt.Errorf("creating channel: %w", err)
		}
		channels = append(channels, ch)
	}

	return &App{
		config:   b.config,
		engine:   eng,
		handler:  httpapi.New(eng),
		channels: channels,
	}, nil
}

// App is a running BotForge application.
type App struct {
	config   Config
	engine   *engine.Engine
	handler  *httpapi.Handler
	channels []channel.Channel
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.handler.Router() }

// Start starts the HTTP server and all channels. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.engine.Start(ctx)

	for _, ch := range a.channels {
		go func() {
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("BotForge server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.engine.Stop()
		a.engine.Store().Close()
		return err
	}

	a.engine.Stop()
	return a.engine.Store().Close()
}
