package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"PleaPipeline/internal/config"
	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/events"
	"PleaPipeline/internal/infrastructure/llm"
	"PleaPipeline/internal/infrastructure/memstore"
	"PleaPipeline/internal/infrastructure/push"
	"PleaPipeline/internal/infrastructure/scheduler"
	"PleaPipeline/internal/infrastructure/scripture"
	"PleaPipeline/internal/infrastructure/storage"
	"PleaPipeline/internal/logging"
	"PleaPipeline/internal/ports"
	"PleaPipeline/internal/prompt"
	"PleaPipeline/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// backend groups the repositories of one storage implementation.
type backend struct {
	content ports.ContentRepository
	users   ports.UserRepository
	threads ports.ThreadRepository
	daily   ports.DailyContentRepository
	config  ports.ConfigRepository
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db       *sqlx.DB
	memory   *memstore.Store
	store    backend
	bus      *events.Bus
	listener *storage.Listener

	prompts   *prompt.Store
	generator *usecase.Generator
	scheduler *usecase.Scheduler
}

// New builds the application. An empty database DSN runs on the in-memory
// store, which publishes its own change events.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging)
	}

	a := &Application{cfg: cfg, logger: baseLogger}
	a.bus = events.NewBus(events.Options{
		Workers:     cfg.Events.Workers,
		QueueSize:   cfg.Events.QueueSize,
		MaxAttempts: cfg.Events.MaxAttempts,
	}, baseLogger.With("component", "bus"))

	if err := a.openBackend(ctx); err != nil {
		return nil, err
	}

	a.prompts = prompt.NewStore(a.store.config, baseLogger.With("component", "prompts"))

	var (
		classifier ports.ModerationClassifier
		filter     ports.ChatClient
		chat       ports.ChatClient
	)
	if cfg.OpenAI.APIKey != "" {
		classifier = llm.NewModerationClient(cfg.OpenAI, nil)
		filter = llm.NewChatGPTClient(cfg.OpenAI, cfg.OpenAI.FilterModel, nil)
		chat = llm.NewChatGPTClient(cfg.OpenAI, cfg.OpenAI.ChatModel, nil)
	} else {
		baseLogger.Warn("openai api key missing: content will be rejected and daily content will use the fallback")
	}

	var chapters ports.ScriptureSource
	if src, err := scripture.New(cfg.Scripture, nil); err != nil {
		baseLogger.Warn("chapter text unavailable, daily content will link to the reader", "source", cfg.Scripture.Source, "error", err)
	} else {
		chapters = src
	}

	dispatcher := usecase.NewDispatcher(usecase.DispatcherDeps{
		Users:        a.store.users,
		Content:      a.store.content,
		Threads:      a.store.threads,
		Sender:       push.NewExpoClient(cfg.Push, nil),
		ChunkSize:    cfg.Push.ChunkSize,
		ChunkTimeout: cfg.Push.Timeout,
		Logger:       baseLogger.With("component", "dispatcher"),
	})

	gate := usecase.NewGate(usecase.GateDeps{
		Content:           a.store.content,
		Classifier:        classifier,
		Filter:            filter,
		Prompts:           a.prompts,
		Notifier:          dispatcher,
		ClassifierTimeout: cfg.Moderation.ClassifierTimeout,
		FilterTimeout:     cfg.Moderation.FilterTimeout,
		Logger:            baseLogger.With("component", "moderation"),
	})

	a.generator = usecase.NewGenerator(usecase.GeneratorDeps{
		Daily:             a.store.daily,
		Chat:              chat,
		Scripture:         chapters,
		Prompts:           a.prompts,
		HistorySize:       cfg.Daily.HistorySize,
		CompletionTimeout: cfg.Daily.CompletionTimeout,
		ScriptureTimeout:  cfg.Scripture.Timeout,
		BibleVersion:      cfg.Scripture.Version,
		ReaderURL:         cfg.Scripture.ReaderURL,
		Logger:            baseLogger.With("component", "daily"),
	})

	triggers := usecase.NewTriggers(usecase.TriggerDeps{
		Content:   a.store.content,
		Gate:      gate,
		Notifier:  dispatcher,
		Generator: a.generator,
		Location:  cfg.Scheduler.Location(),
		DaysAhead: cfg.Scheduler.DaysAhead,
		Logger:    baseLogger.With("component", "triggers"),
	})
	triggers.Register(a.bus)

	a.scheduler = usecase.NewScheduler(
		scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location(), baseLogger.With("component", "cron")),
		a.bus,
		baseLogger.With("component", "scheduler"),
	)

	return a, nil
}

func (a *Application) openBackend(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("database dsn missing, using in-memory store")
		a.memory = memstore.New(a.logger.With("component", "memstore"))
		a.memory.SetPublisher(a.bus)
		a.store = backend{
			content: a.memory,
			users:   a.memory.Users(),
			threads: a.memory.Threads(),
			daily:   a.memory.Daily(),
			config:  a.memory,
		}
		return nil
	}

	db, err := storage.Open(ctx, a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.db = db
	a.store = backend{
		content: storage.NewContentRepository(db),
		users:   storage.NewUserRepository(db),
		threads: storage.NewThreadRepository(db),
		daily:   storage.NewDailyContentRepository(db),
		config:  storage.NewConfigRepository(db),
	}
	a.listener = storage.NewListener(a.cfg.Database.DSN, a.cfg.Database.NotifyChannel, a.bus,
		a.logger.With("component", "listener"))
	return nil
}

// Memory returns the in-memory store, or nil when running on Postgres.
func (a *Application) Memory() *memstore.Store {
	return a.memory
}

// Run starts the bus, the change listener, the daily scheduler and the ops
// server, and blocks until ctx is cancelled or one of them fails.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.bus.Run(ctx); err != nil {
			errCh <- fmt.Errorf("event bus: %w", err)
		}
	}()

	if a.listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.listener.Run(ctx); err != nil {
				errCh <- fmt.Errorf("change listener: %w", err)
			}
		}()
	}

	if err := a.scheduler.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("start scheduler: %w", err)
	}

	var server *http.Server
	if a.cfg.Ops.Addr != "" {
		server = &http.Server{
			Addr:              a.cfg.Ops.Addr,
			Handler:           a.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("ops server listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("ops server shutdown", "error", err)
		}
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler shutdown", "error", err)
	}
	cancel()
	wg.Wait()

	a.logger.Info("application stopped")
	return runErr
}

// Generate builds and stores the daily content for date.
func (a *Application) Generate(ctx context.Context, date time.Time) (domain.DailyContent, error) {
	return a.generator.Generate(ctx, date)
}

// Migrate applies the Postgres schema.
func (a *Application) Migrate(ctx context.Context) error {
	if a.db == nil {
		return errors.New("migrate requires database.dsn")
	}
	return storage.Migrate(ctx, a.db, a.cfg.Database.NotifyChannel)
}

// Close releases the database pool.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
