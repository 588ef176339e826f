// Command timingd runs the timing-and-scoring core as a standalone
// process: one pipeline.Coordinator per configured event, fed by a live
// relay (internal/ingest), the synthetic feed (internal/simfeed), or both,
// broadcasting patches over WebSocket (internal/broadcast).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockwire/timingcore/internal/broadcast"
	"github.com/paddockwire/timingcore/internal/config"
	"github.com/paddockwire/timingcore/internal/consistency"
	"github.com/paddockwire/timingcore/internal/ingest"
	"github.com/paddockwire/timingcore/internal/laphistory"
	"github.com/paddockwire/timingcore/internal/persistence"
	"github.com/paddockwire/timingcore/internal/pipeline"
	"github.com/paddockwire/timingcore/internal/session"
	"github.com/paddockwire/timingcore/internal/sessionmon"
	"github.com/paddockwire/timingcore/internal/simfeed"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/timingcore/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	debug := flag.Bool("debug", false, "Enable debug logging")
	sim := flag.Bool("sim", false, "Run the synthetic feed (internal/simfeed) for every configured event, alongside any configured feed URLs")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if *debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfgPath).Msg("failed to load config")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *sim {
		for i := range cfg.Events {
			cfg.Events[i].Simulate = true
		}
	}

	lapStore := persistence.NewMemLapLogStore()
	sessionStore := persistence.NewMemSessionRowStore()

	hub := broadcast.NewHub(cfg.Server.MaxConnections, log)
	server := broadcast.NewServer(hub, cfg.Server.AllowedOrigins, cfg.Server.AuthToken, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, ev := range cfg.Events {
		runEvent(ctx, ev, cfg.Monitor, lapStore, sessionStore, hub, server, log)
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		cancel()
		os.Exit(0)
	}()

	if err := broadcast.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux, log); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// runEvent wires one event's pipeline.Coordinator to its broadcast room
// and upstream feed(s), and starts its background loops (consistency
// checker, ingest poll loop).
func runEvent(
	ctx context.Context,
	ev config.EventConfig,
	mon config.MonitorConfig,
	lapStore persistence.LapLogStore,
	sessionStore persistence.SessionRowStore,
	hub *broadcast.Hub,
	server *broadcast.Server,
	log zerolog.Logger,
) {
	eventLog := log.With().Int("event_id", ev.EventId).Logger()
	history := laphistory.New(nil)

	// Room needs coord's Snapshot method for SendFullSnapshot, but coord
	// needs the Room as its consolidator.Sink: close the cycle with an
	// indirection that resolves once coord is constructed below.
	var coord *pipeline.Coordinator
	room := hub.Room(ev.EventId, func() *session.State { return coord.Snapshot() })

	onFinalized := func(fs sessionmon.FinalizedSession) {
		eventLog.Info().Int("session_id", fs.Row.SessionId).Msg("session finalized")
	}
	onResync := func(req consistency.ResyncRequest) {
		eventLog.Warn().Bool("force_reset", req.ForceTimingDataReset).Msg("publishing upstream resync request")
	}

	coord = pipeline.New(ev.EventId, ev.SessionId, ev.SessionName, lapStore, sessionStore, history, room, eventLog, onFinalized, onResync)
	server.RegisterEvent(coord)

	go coord.RunConsistencyChecker(ctx)

	var sources []ingest.Source
	if ev.Feeds.RMonitorURL != "" {
		sources = append(sources, ingest.NewWSSource("rmonitor", ev.Feeds.RMonitorURL, nil))
	}
	if ev.Feeds.MultiloopURL != "" {
		sources = append(sources, ingest.NewWSSource("multiloop", ev.Feeds.MultiloopURL, nil))
	}
	if ev.Feeds.X2PassURL != "" {
		sources = append(sources, ingest.NewWSSource("x2pass", ev.Feeds.X2PassURL, nil))
	}
	if ev.Feeds.FlagsURL != "" {
		sources = append(sources, ingest.NewWSSource("flags", ev.Feeds.FlagsURL, nil))
	}
	if ev.Simulate || len(sources) == 0 {
		eventLog.Info().Msg("no live feeds configured, running synthetic feed")
		sources = append(sources, simfeed.New(ev.SessionId, ev.SessionName, int64(ev.EventId)))
	}

	pollInterval := mon.PollInterval
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	healthThreshold := mon.HealthWarningThreshold
	if healthThreshold <= 0 {
		healthThreshold = 3
	}
	monitor := ingest.New(ev.EventId, coord, sources, pollInterval, healthThreshold, eventLog)
	go monitor.Run(ctx)
}
