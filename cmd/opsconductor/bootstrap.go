package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/opsconductor/opsconductor/internal/alertmanager"
	"github.com/opsconductor/opsconductor/internal/config"
	"github.com/opsconductor/opsconductor/internal/connector"
	"github.com/opsconductor/opsconductor/internal/connectors/prtg"
	"github.com/opsconductor/opsconductor/internal/connectors/snmp"
	"github.com/opsconductor/opsconductor/internal/ipresolve"
	"github.com/opsconductor/opsconductor/internal/mapping"
	"github.com/opsconductor/opsconductor/internal/notify"
	"github.com/opsconductor/opsconductor/internal/rules"
	"github.com/opsconductor/opsconductor/internal/scheduler"
	"github.com/opsconductor/opsconductor/internal/snmptrap"
	"github.com/opsconductor/opsconductor/internal/store"
	"github.com/opsconductor/opsconductor/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.ParseLogLevel())

	log.Info().Str("version", Version).Msg("Starting OpsConductor")

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to open store")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := telemetry.New()
	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, metrics)
	}

	// Mapping cache: loaded now, refreshed on SIGHUP, file change and a
	// periodic fallback tick.
	mappings := mapping.New(st)
	if err := mappings.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial mapping load failed, starting with empty cache")
	}

	resolver := ipresolve.New()
	dispatcher := notify.NewDispatcher(st, metrics)
	manager := alertmanager.New(st, cfg.AlertDefaultTTL,
		alertmanager.WithNotifier(dispatcher),
		alertmanager.WithMetrics(metrics))

	// Connector registry with every compiled-in factory. Stored rows of
	// other types are ignored.
	prtgNormalizer := prtg.NewNormalizer(mappings, resolver)
	snmpNormalizer := snmp.NewNormalizer(mappings, resolver)
	registry := connector.NewRegistry()
	registry.Register("prtg", prtg.Factory(prtgNormalizer))
	registry.Register("ciena", snmp.Factory("ciena", snmpNormalizer))
	registry.Register("eaton", snmp.Factory("eaton", snmpNormalizer))

	var wg sync.WaitGroup

	// Webhook ingress, shared by every webhook-mode connector.
	webhookServer := connector.NewWebhookServer(manager)

	stored, err := st.EnabledConnectors(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load connectors")
	}
	for _, row := range stored {
		inst, err := registry.Build(row.ConnectorType, row.Config)
		if err != nil {
			log.Warn().Err(err).
				Int64("connector_id", row.ID).
				Str("connector_type", row.ConnectorType).
				Msg("Skipping connector without a compiled-in factory")
			continue
		}
		if wh, ok := inst.(connector.WebhookHandler); ok {
			webhookServer.Mount(wh)
			if err := inst.Start(ctx); err != nil {
				log.Warn().Err(err).Str("connector_type", row.ConnectorType).Msg("Webhook connector start failed")
			}
		}
		if poller, ok := inst.(connector.Poller); ok && poller.PollInterval() > 0 {
			runner := connector.NewRunner(row.ID, poller, manager, st, metrics)
			wg.Add(1)
			go func() {
				defer wg.Done()
				runner.Run(ctx)
			}()
		}
	}
	if err := webhookServer.Start(ctx, cfg.WebhookAddr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start webhook ingress")
	}

	// SNMP trap receiver.
	trapReceiver := snmptrap.New(snmptrap.Config{
		Host:              cfg.TrapHost,
		Port:              cfg.TrapPort,
		QueueSize:         cfg.TrapQueueSize,
		Workers:           cfg.TrapWorkers,
		Communities:       cfg.TrapCommunities,
		ValidateCommunity: cfg.TrapValidateCommunity,
	}, st, snmpNormalizer, manager, metrics)
	if err := trapReceiver.Start(ctx); err != nil {
		log.Error().Err(err).Msg("SNMP trap receiver failed to start, continuing without it")
	}

	// Scheduler substrate.
	pool := scheduler.NewPool(cfg.SchedulerMaxWorkers)
	sched := scheduler.New(st, pool, cfg.SchedulerTickInterval, cfg.StaleExecutionTimeout, metrics)
	evaluator := rules.New(st, manager, pool, metrics)
	registerTasks(sched, registry, st, manager, evaluator)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	// Rule evaluator and TTL expirer tick loops.
	wg.Add(1)
	go func() {
		defer wg.Done()
		evaluator.Run(ctx, cfg.RuleEvalInterval)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.RunExpirer(ctx, cfg.ExpirerInterval)
	}()

	// Periodic mapping refresh plus DNS cache pruning.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := mappings.Refresh(ctx); err != nil {
					log.Warn().Err(err).Msg("Mapping cache refresh failed")
				}
				resolver.Refresh()
			}
		}
	}()

	// Hot reload of mappings when the .env or reload sentinel changes.
	watcher, err := config.NewWatcher(
		[]string{".env", filepath.Join(cfg.DataDir, "mappings.reload")},
		func(string) {
			if err := mappings.Refresh(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Mapping cache reload failed")
			}
		})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		watcher.Start(ctx)
	}

	// SIGHUP reloads mappings; SIGINT/SIGTERM shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Info().Msg("SIGHUP received, reloading mapping cache")
			if err := mappings.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("Mapping cache reload failed")
			}
			continue
		}
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		break
	}

	cancel()
	if err := trapReceiver.Stop(); err != nil {
		log.Warn().Err(err).Msg("Trap receiver stop reported error")
	}
	wg.Wait()
	log.Info().Msg("OpsConductor stopped")
}
