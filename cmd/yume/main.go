// Yume is a bancho server for the osu! client: sessions, chat, multiplayer
// lobbies, beatmap leaderboards and score submission behind one HTTP
// listener.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yume-project/yume/internal/api"
	"github.com/yume-project/yume/internal/bancho"
	"github.com/yume-project/yume/internal/beatmap"
	"github.com/yume-project/yume/internal/channel"
	"github.com/yume-project/yume/internal/cli"
	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/connector"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/events"
	"github.com/yume-project/yume/internal/match"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
	"github.com/yume-project/yume/internal/ranking"
	"github.com/yume-project/yume/internal/scheduler"
	"github.com/yume-project/yume/internal/scoring"
	"github.com/yume-project/yume/internal/telemetry"
	"github.com/yume-project/yume/internal/util"
)

const (
	AppName    = "Yume"
	AppVersion = "1.0.0"
	Banner     = `
 __   __
 \ \ / /   _ _ __ ___   ___
  \ V / | | | '_ ' _ \ / _ \
   | || |_| | | | | | |  __/
   |_| \__,_|_| |_| |_|\___|  v%s
 osu! bancho server
`
)

// restartGrace is how long clients get to poll the restart packet before
// the listener closes.
const restartGrace = 2 * time.Second

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Yume")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	bus := events.NewBus()

	ranks, err := ranking.NewIndex(ctx, cfg.Redis, store)
	if err != nil {
		log.Warn().Err(err).Msg("rank index unavailable, ranks served from the database")
		ranks, _ = ranking.NewIndex(ctx, config.RedisConfig{}, store)
	} else if ranks.Enabled() {
		if err := ranks.Rebuild(ctx); err != nil {
			log.Warn().Err(err).Msg("initial rank index rebuild failed")
		}
	}

	srvCfg := cfg.GetServer()
	presences := presence.NewRegistry(store, presence.Options{
		DuplicateLogin:  cfg.GetPresence().DuplicateLogin,
		ProtocolVersion: srvCfg.ProtocolVersion,
		Ranks:           ranks,
		Bus:             bus,
	})
	presences.RegisterBot(srvCfg.BotName)

	channels := channel.NewManager()
	if err := channels.Load(ctx, store, srvCfg.DefaultChannel, srvCfg.DefaultTopic); err != nil {
		log.Fatal().Err(err).Msg("failed to load channels")
	}
	matches := match.NewManager(bus)

	presences.OnTerminate(func(p *presence.Presence) {
		channels.LeaveAll(p)
		matches.Leave(p)
		matches.PartLobby(p)
	})

	mirror := connector.NewMirrorClient(cfg.Mirror)
	beatmaps := beatmap.NewRegistry(store, mirror, store)

	worker := scoring.NewWorker(cfg.Scoring.WorkerQueueSize)
	pipeline := scoring.NewPipeline(scoring.Options{
		Store:     store,
		Oracle:    connector.NewOracleClient(cfg.Oracle),
		Files:     connector.NewOsuFiles(cfg.Oracle),
		Beatmaps:  beatmaps,
		Worker:    worker,
		Bus:       bus,
		TopScores: cfg.Scoring.AccuracyTopN,
	})
	pipeline.OnStatsUpdated(func(ctx context.Context, userID int32, mode osu.PlayMode, variant osu.Variant) {
		if stats, err := store.GetStats(ctx, userID, variant, mode); err == nil {
			if err := ranks.Update(ctx, userID, variant, mode, stats.Performance); err != nil {
				log.Warn().Err(err).Int32("user_id", userID).Msg("failed to update rank index")
			}
		}

		p, ok := presences.GetByID(userID)
		if !ok || p.Status().Mode != mode || p.Variant() != variant {
			return
		}
		if err := presences.UpdateStats(ctx, p, mode); err != nil {
			log.Warn().Err(err).Int32("user_id", userID).Msg("failed to refresh online stats")
			return
		}
		presences.Broadcast([]protocol.Packet{p.StatsPacket()})
	})

	table := bancho.NewTable(bancho.Deps{
		Presences:       presences,
		Channels:        channels,
		Matches:         matches,
		Friends:         store,
		Bus:             bus,
		ProtocolVersion: srvCfg.ProtocolVersion,
	})

	apiServer := api.NewServer(cfg, api.Deps{
		Presences: presences,
		Table:     table,
		Channels:  channels,
		Matches:   matches,
		Beatmaps:  beatmaps,
		Pipeline:  pipeline,
		Scores:    store,
	})

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.MQTT, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	sched := scheduler.NewScheduler(scheduler.Options{
		ReapInterval:   time.Duration(cfg.GetPresence().ReapIntervalSeconds) * time.Second,
		IdleWindow:     cfg.IdleTimeout(),
		Reaper:         presences,
		Ranks:          ranks,
		Counters:       store,
		OnlineCount:    presences.Count,
		CachedBeatmaps: beatmaps.Count,
	})

	console := cli.NewCLI(presences, matches, channels, bus, os.Stdin, os.Stdout)

	shutdownCh := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "main.shutdown", func(context.Context, events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	worker.Start(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.ListenAddr()).Msg("starting HTTP server")
		if err := apiServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// The console blocks on stdin, so it is not waited for on shutdown.
	go console.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	presences.Shutdown(srvCfg.RestartDelayMs)
	time.Sleep(restartGrace)

	// Queued stat updates still need a live context.
	worker.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()
	if err := ranks.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close rank index")
	}
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}

	log.Info().Msg("Yume stopped")
}
