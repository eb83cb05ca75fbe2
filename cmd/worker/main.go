package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/signflow/signflow/pkg/config"
	"github.com/signflow/signflow/pkg/logging"
	"github.com/signflow/signflow/pkg/metrics"
	"github.com/signflow/signflow/pkg/provider"
	"github.com/signflow/signflow/pkg/queue"
	"github.com/signflow/signflow/pkg/ratelimit"
	"github.com/signflow/signflow/pkg/registry"
	"github.com/signflow/signflow/pkg/routing"
	"github.com/signflow/signflow/pkg/shutdown"
	"github.com/signflow/signflow/pkg/store"
	"github.com/signflow/signflow/pkg/tracing"
	"github.com/signflow/signflow/pkg/worker"
)

var version = "dev"

func main() {
	cfgFile := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)

	log.Info("signflow worker starting", map[string]interface{}{
		"version": version,
	})
	reportHost(log)

	tracer, err := tracing.Init(tracing.Config{
		ServiceName:    "signflow-worker",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Error("failed to initialize tracing", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	st, err := store.NewStore(store.Config{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Error("failed to open store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	q, err := queue.New(queue.Config{
		Type: cfg.Queue.Backend,
		URL:  cfg.Queue.RedisURL,
		Name: cfg.Queue.Name,
	})
	if err != nil {
		log.Error("failed to open queue", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	prov, err := provider.New(provider.Config{
		Type:     cfg.Provider.Kind,
		CacheDir: cfg.Provider.CacheDir,
		Offline:  cfg.Provider.Offline,
		Endpoint: cfg.Provider.HubBaseURL,
		Token:    cfg.Provider.HubToken,
		RPS:      cfg.Provider.HubRPS,
	})
	if err != nil {
		log.Error("failed to create provider", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	// seed the registry so jobs always route somewhere
	var hub provider.HubClient
	if !cfg.Provider.Offline {
		hub = provider.NewHTTPHubClient(cfg.Provider.HubBaseURL, cfg.Provider.HubToken)
	}
	resolver := provider.NewResolver(cfg.Provider.CacheDir, cfg.Provider.Offline, hub, cfg.Provider.HubRPS)
	reg := registry.NewService(st, resolver, log)
	if _, err := reg.EnsureDefault(); err != nil {
		log.Error("failed to seed default model version", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	router := routing.NewRouter(st, routing.CanaryConfig{
		ModelVersionID: cfg.Canary.ModelID,
		Percent:        cfg.Canary.TrafficPercent,
	})

	m := metrics.New()
	processor := worker.NewProcessor(st, prov, router, m, tracer, cfg.Provider.Timeout, log)
	loop := worker.NewLoop(q, processor, m, worker.LoopConfig{
		SweepInterval: cfg.Worker.SweepInterval,
		PopTimeout:    cfg.Worker.PopTimeout,
		IdleSleep:     cfg.Worker.IdleSleep,
	}, log)

	opsServer := newOpsServer(cfg.Metrics.Addr, m, st, prov)
	go func() {
		log.Info("ops endpoint listening", map[string]interface{}{"addr": cfg.Metrics.Addr})
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			log.Error("worker loop exited", map[string]interface{}{"error": err.Error()})
		}
	}()

	mgr := shutdown.New(30*time.Second, log)
	mgr.Register("store", shutdown.CloseResource(st))
	mgr.Register("queue", shutdown.CloseResource(q))
	mgr.Register("ops server", shutdown.StopHTTPServer(opsServer))
	mgr.Register("tracing", tracer.Shutdown)
	mgr.Register("worker loop", func(shutdownCtx context.Context) error {
		cancel()
		select {
		case <-loopDone:
			return nil
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	})

	mgr.Wait()
	mgr.Shutdown()
}

// reportHost logs the machine this worker landed on
func reportHost(log *logging.Logger) {
	fields := map[string]interface{}{}
	if counts, err := cpu.Counts(true); err == nil {
		fields["cpu_threads"] = counts
	}
	if info, err := cpu.Info(); err == nil && len(info) > 0 {
		fields["cpu_model"] = info[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["ram_gb"] = fmt.Sprintf("%.1f", float64(vm.Total)/(1<<30))
	}
	log.Info("host capabilities", fields)
}

// opsRPS caps per-client requests to the ops endpoint; scrapers poll
// at second granularity, anything past this is misbehaving.
const opsRPS = 5

func newOpsServer(addr string, m *metrics.Metrics, st store.Store, prov provider.Provider) *http.Server {
	r := mux.NewRouter()
	r.Use(ratelimit.NewKeyedLimiter(opsRPS, 2*opsRPS).Middleware(ratelimit.IPKeyFunc))
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		type health struct {
			Status   string          `json:"status"`
			Provider provider.Status `json:"provider"`
		}
		h := health{Status: "ok", Provider: prov.Health()}
		w.Header().Set("Content-Type", "application/json")
		if err := st.HealthCheck(); err != nil {
			h.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
