package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/modmail/internal/attachment"
	"github.com/memohai/modmail/internal/channel"
	"github.com/memohai/modmail/internal/channel/adapters/discord"
	"github.com/memohai/modmail/internal/channel/inbound"
	"github.com/memohai/modmail/internal/config"
	"github.com/memohai/modmail/internal/event"
	"github.com/memohai/modmail/internal/handlers"
	"github.com/memohai/modmail/internal/healthcheck"
	channelchecker "github.com/memohai/modmail/internal/healthcheck/checkers/channel"
	registrychecker "github.com/memohai/modmail/internal/healthcheck/checkers/registry"
	"github.com/memohai/modmail/internal/logger"
	"github.com/memohai/modmail/internal/media"
	"github.com/memohai/modmail/internal/schedule"
	"github.com/memohai/modmail/internal/server"
	"github.com/memohai/modmail/internal/store"
	"github.com/memohai/modmail/internal/thread"
)

func runServe() {
	fx.New(
		fx.Provide(
			loadConfig,
			provideLogger,
			provideStore,
			provideEventHub,
			provideFetcher,
			provideStickerConverter,
			provideCollector,
			provideDiscordAdapter,
			provideThreadConfig,
			provideThreadManager,
			provideInboundProcessor,
			provideScheduleService,
			provideHealthChecks,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewHealthHandler),
			provideServerHandler(provideThreadsHandler),
			provideServerHandler(provideEventsHandler),
			provideServer,
		),
		fx.Invoke(
			startRelay,
			startScheduleService,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return st.Close() }})
	return st, nil
}

func provideEventHub(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*event.Hub, error) {
	if !cfg.NATS.Enabled() {
		return event.NewHub(log), nil
	}
	sink, err := event.ConnectNATS(event.NATSConfig{
		URL:           cfg.NATS.URL,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		Token:         cfg.NATS.Token,
	}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return sink.Close() }})
	return event.NewHub(log, sink), nil
}

func provideFetcher(cfg config.Config) *media.Fetcher {
	return media.NewFetcher(nil, cfg.Sticker.MaxBytes())
}

func provideStickerConverter(log *slog.Logger, cfg config.Config, fetcher *media.Fetcher) *media.StickerConverter {
	var renderer media.Renderer
	if r := media.NewCommandRenderer(cfg.Sticker.Renderer, cfg.Sticker.MaxBytes()); r != nil {
		renderer = r
	} else {
		log.Info("sticker renderer not configured; vector stickers are sent as placeholders")
	}
	return media.NewStickerConverter(log, fetcher, renderer)
}

func provideCollector(log *slog.Logger, converter *media.StickerConverter) *attachment.Collector {
	return attachment.NewCollector(log, converter)
}

func provideDiscordAdapter(log *slog.Logger, cfg config.Config) (*discord.Adapter, error) {
	return discord.NewAdapter(log, cfg.Discord.Token)
}

func provideThreadConfig(cfg config.Config) thread.Config {
	mm := cfg.Modmail
	return thread.Config{
		GuildID:                cfg.Discord.GuildID,
		MainCategoryID:         cfg.Discord.MainCategoryID,
		LogChannelID:           cfg.Discord.LogChannelID,
		FallbackCategoryName:   mm.FallbackCategoryName,
		IdleTimeout:            mm.IdleTimeout(),
		AutoCloseSilently:      mm.AutoCloseSilently,
		AutoCloseResponse:      mm.AutoCloseResponse,
		ConfirmThreadCreation:  mm.ConfirmThreadCreation,
		ConfirmTimeout:         mm.ConfirmTimeoutDuration(),
		ReadyTimeout:           mm.ReadyTimeoutDuration(),
		HistoryLimit:           mm.HistoryLimit,
		AnonUsername:           mm.AnonUsername,
		AnonAvatarURL:          mm.AnonAvatarURL,
		AnonTag:                mm.AnonTag,
		StaffTag:               mm.StaffTag,
		ThreadCreationTitle:    mm.ThreadCreationTitle,
		ThreadCreationResponse: mm.ThreadCreationResponse,
		ThreadCloseTitle:       mm.ThreadCloseTitle,
		ThreadCloseResponse:    mm.ThreadCloseResponse,
		ThreadCloseFooter:      mm.ThreadCloseFooter,
		Mention:                mm.Mention,
		ShowTimestamp:          mm.ShowTimestamp,
		Colors: thread.Colors{
			Main:      mm.MainColor,
			Staff:     mm.StaffColor,
			Recipient: mm.RecipientColor,
			Note:      mm.NoteColor,
			Error:     mm.ErrorColor,
		},
	}
}

type threadManagerParams struct {
	fx.In

	Logger    *slog.Logger
	Adapter   *discord.Adapter
	Config    thread.Config
	Store     *store.Store
	Events    *event.Hub
	Collector *attachment.Collector
	Fetcher   *media.Fetcher
}

func provideThreadManager(params threadManagerParams) *thread.Manager {
	return thread.NewManager(params.Logger, params.Adapter, params.Config, thread.Options{
		Store:     params.Store,
		Events:    params.Events,
		Collector: params.Collector,
		Fetcher:   params.Fetcher,
	})
}

func provideInboundProcessor(log *slog.Logger, adapter *discord.Adapter, manager *thread.Manager, cfg config.Config) *inbound.Processor {
	return inbound.NewProcessor(log, adapter, manager, inbound.Config{
		BlockedUsers:          cfg.Modmail.BlockedUsers,
		BlockedResponse:       cfg.Modmail.BlockedResponse,
		ConfirmThreadCreation: cfg.Modmail.ConfirmThreadCreation,
	})
}

func provideScheduleService(log *slog.Logger, cfg config.Config, manager *thread.Manager, st *store.Store) *schedule.Service {
	return schedule.NewService(log, schedule.Config{
		Reconcile:       cfg.Schedule.Reconcile,
		Retention:       cfg.Schedule.Retention,
		RetentionPeriod: cfg.Schedule.RetentionPeriod(),
	}, manager, st)
}

func provideHealthChecks(log *slog.Logger, adapter *discord.Adapter, manager *thread.Manager, st *store.Store) *healthcheck.Aggregator {
	return healthcheck.NewAggregator(
		channelchecker.NewChecker(log, adapter, "discord"),
		registrychecker.NewChecker(log, manager, st),
	)
}

func provideThreadsHandler(manager *thread.Manager, st *store.Store) *handlers.ThreadsHandler {
	return handlers.NewThreadsHandler(manager, st)
}

func provideEventsHandler(hub *event.Hub) *handlers.EventsHandler {
	return handlers.NewEventsHandler(hub)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

// startRelay restores the registry from existing staff channels, then opens the
// gateway and runs the closure worker. No inbound traffic is accepted before the
// registry is rebuilt.
func startRelay(lc fx.Lifecycle, log *slog.Logger, adapter *discord.Adapter, manager *thread.Manager, processor *inbound.Processor) {
	ctx, cancel := context.WithCancel(context.Background())
	var conn channel.Connection
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := manager.PopulateCache(startCtx); err != nil {
				cancel()
				return fmt.Errorf("populate thread cache: %w", err)
			}
			c, err := adapter.Connect(ctx, processor.Dispatch)
			if err != nil {
				cancel()
				return err
			}
			conn = c
			manager.Start(ctx)
			log.Info("relay started", slog.Int("threads", manager.Len()))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			defer cancel()
			manager.Stop()
			if conn == nil {
				return nil
			}
			return conn.Stop(stopCtx)
		},
	})
}

func startScheduleService(lc fx.Lifecycle, svc *schedule.Service) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return svc.Start(ctx) },
		OnStop:  func(stopCtx context.Context) error { cancel(); return svc.Stop(stopCtx) },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting modmail %s\n", rootCmd.Version)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
