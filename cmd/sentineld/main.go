// Command sentineld runs the ingestion daemon: it loads configuration,
// seeds the store, builds the connector runtime, and serves the HTTP
// surface until interrupted.
//
// Exit codes: 0 on clean shutdown, 1 on unrecoverable initialization or
// serve failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/connector"
	"github.com/sigilsec/sentinel/core"
	"github.com/sigilsec/sentinel/monitor"
	"github.com/sigilsec/sentinel/pipeline"
	"github.com/sigilsec/sentinel/queue"
	"github.com/sigilsec/sentinel/schedule"
	"github.com/sigilsec/sentinel/store"
	"github.com/sigilsec/sentinel/telemetry"
	"github.com/sigilsec/sentinel/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	var opts []core.Option
	if *configPath != "" {
		opts = append(opts, core.WithConfigFile(*configPath))
	}
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	logger := core.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tel core.Telemetry = &core.NoOpTelemetry{}
	var telProvider *telemetry.Provider
	if cfg.Telemetry.Enabled {
		telProvider, err = telemetry.New(ctx, cfg.Telemetry, logger)
		if err != nil {
			logger.Error("Failed to initialize telemetry", map[string]interface{}{"error": err.Error()})
			return 1
		}
		tel = telProvider
	}

	b := bus.New()
	b.SetLogger(logger)

	st := store.NewMemoryStore()
	if cfg.Seed != "" {
		n, err := st.Seed(ctx, cfg.Seed)
		if err != nil {
			logger.Error("Failed to load seed file", map[string]interface{}{
				"path":  cfg.Seed,
				"error": err.Error(),
			})
			return 1
		}
		logger.Info("Seed loaded", map[string]interface{}{"connectors": n})
	}

	memory, err := buildMemory(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize memory store", map[string]interface{}{"error": err.Error()})
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	q := queue.New(cfg.Queue.MaxSize, b, logger, queue.NewMetrics(registry))

	pl := pipeline.New(st, b, logger,
		pipeline.WithTelemetry(tel),
		pipeline.WithMetrics(pipeline.NewMetrics(registry)),
		pipeline.WithEnricher(&pipeline.ThreatIntelEnricher{
			Lookup: intelLookup(st, memory, cfg.Memory.DefaultTTL),
		}),
	)

	connRegistry := connector.NewRegistry(b, logger)

	workers := queue.NewWorkerPool(q, pl.Process, &queue.WorkerPoolConfig{
		Concurrency:     cfg.Queue.Concurrency,
		RetryDelayBase:  cfg.Queue.RetryDelayBase,
		IdleSleep:       cfg.Queue.IdleSleep,
		JobTimeout:      cfg.Queue.JobTimeout,
		CleanupInterval: cfg.Queue.CleanupInterval,
		RetainFor:       cfg.Queue.RetainFor,
		Logger:          logger,
	})
	workers.SetCompletionHook(metricsWriteThrough(connRegistry, st, logger))
	if err := workers.Start(ctx); err != nil {
		logger.Error("Failed to start worker pool", map[string]interface{}{"error": err.Error()})
		return 1
	}

	if err := buildConnectors(ctx, st, connRegistry, q, b, logger); err != nil {
		logger.Error("Failed to build connectors", map[string]interface{}{"error": err.Error()})
		return 1
	}

	sched := schedule.New(connRegistry, q, cfg.Scheduler, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", map[string]interface{}{"error": err.Error()})
		return 1
	}

	mon := monitor.New(connRegistry, b, monitor.NewHub(logger), cfg.Monitor, logger)
	if err := mon.Start(ctx); err != nil {
		logger.Error("Failed to start monitor", map[string]interface{}{"error": err.Error()})
		return 1
	}

	server := transport.NewServer(cfg, connRegistry, q, sched, mon, registry, logger)
	serveErr := server.Start(ctx)

	logger.Info("Daemon started", map[string]interface{}{
		"name":       cfg.Name,
		"port":       cfg.Port,
		"connectors": connRegistry.Count(),
	})

	exitCode := 0
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok && err != nil {
			logger.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
			exitCode = 1
		}
	}

	// Shutdown order: stop accepting work, drain, then release adapters.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	sched.Stop()
	q.Close()
	workers.Stop()
	connRegistry.StopAll(shutdownCtx)
	mon.Stop()
	if telProvider != nil {
		if err := telProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown incomplete", map[string]interface{}{"error": err.Error()})
		}
	}

	logger.Info("Daemon stopped", nil)
	return exitCode
}

// buildMemory selects the Memory backend for caches and sessions.
func buildMemory(cfg *core.Config, logger core.Logger) (core.Memory, error) {
	if cfg.Memory.Provider == "redis" {
		return core.NewRedisStore(cfg.Memory.RedisURL)
	}
	mem := core.NewMemoryStore()
	mem.SetLogger(logger)
	return mem, nil
}

// buildConnectors instantiates an adapter per store row, wires its queue
// sink, and starts the active ones. A connector that fails to start is
// left registered in error state rather than aborting the daemon.
func buildConnectors(ctx context.Context, st *store.MemoryStore, registry *connector.Registry, q *queue.Queue, b *bus.Bus, logger core.Logger) error {
	records, err := st.ListConnectors(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		conn, err := buildConnector(rec, st, b, logger)
		if err != nil {
			logger.Error("Skipping connector with invalid configuration", map[string]interface{}{
				"connector_id": rec.ID,
				"type":         string(rec.Type),
				"error":        err.Error(),
			})
			continue
		}
		wireEmitter(conn, q)
		registry.Register(conn)

		if rec.IsActive || rec.Status == core.StatusActive {
			if err := conn.Start(ctx); err != nil {
				logger.Warn("Connector failed to start", map[string]interface{}{
					"connector_id": rec.ID,
					"error":        err.Error(),
				})
			}
		}
	}
	return nil
}

func buildConnector(rec *core.ConnectorRecord, st core.Store, b *bus.Bus, logger core.Logger) (connector.Connector, error) {
	switch rec.Type {
	case core.ConnectorTypeAPI:
		var client core.SourceClient
		if rec.Configuration.API != nil {
			client = connector.NewHTTPSourceClient(*rec.Configuration.API)
		}
		return connector.NewAPIConnector(rec, client, st, b, logger)
	case core.ConnectorTypeSyslog:
		return connector.NewSyslogConnector(rec, st, b, logger)
	case core.ConnectorTypeAgent:
		return connector.NewAgentConnector(rec, st, b, logger)
	case core.ConnectorTypeWebhook:
		return connector.NewWebhookConnector(rec, st, b, logger)
	default:
		return nil, fmt.Errorf("unknown connector type %q: %w", rec.Type, core.ErrConfigInvalid)
	}
}

// wireEmitter points an adapter's emit path at the job queue.
func wireEmitter(conn connector.Connector, q *queue.Queue) {
	type emitter interface {
		SetEmitter(connector.EmitFunc)
	}
	e, ok := conn.(emitter)
	if !ok {
		return
	}
	id := conn.ID()
	typ := string(conn.Type())
	e.SetEmitter(func(event *core.RawEvent, priority core.Priority) error {
		return q.Enqueue(&core.QueueJob{
			ConnectorID: id,
			Data:        event,
			DataSource:  typ,
			Priority:    priority,
		})
	})
}

// metricsWriteThrough persists connector metrics after each completed job
// so the store row tracks live counters.
func metricsWriteThrough(registry *connector.Registry, st core.Store, logger core.Logger) queue.CompletionHook {
	return func(ctx context.Context, job *core.QueueJob) {
		if job.ConnectorID == "" {
			return
		}
		conn, ok := registry.Get(job.ConnectorID)
		if !ok {
			return
		}
		metrics := conn.GetMetrics()
		if err := st.UpdateConnector(ctx, job.ConnectorID, &core.ConnectorUpdate{Metrics: &metrics}); err != nil {
			logger.Debug("Metrics write-through failed", map[string]interface{}{
				"connector_id": job.ConnectorID,
				"error":        err.Error(),
			})
		}
	}
}

// intelLookup builds the threat intel enrichment lookup: a read-through
// cache over the store's indicator rows.
func intelLookup(st *store.MemoryStore, memory core.Memory, ttl time.Duration) func(ctx context.Context, indicator string) (*core.ThreatIntel, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return func(ctx context.Context, indicator string) (*core.ThreatIntel, error) {
		key := "intel:" + indicator
		if cached, err := memory.Get(ctx, key); err == nil && cached != "" {
			if cached == "miss" {
				return nil, nil
			}
			var intel core.ThreatIntel
			if err := json.Unmarshal([]byte(cached), &intel); err == nil {
				return &intel, nil
			}
		}

		rows, err := st.ListThreatIntel(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.Indicator == indicator {
				if data, err := json.Marshal(row); err == nil {
					memory.Set(ctx, key, string(data), ttl)
				}
				return row, nil
			}
		}
		memory.Set(ctx, key, "miss", ttl)
		return nil, nil
	}
}
