package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/belief"
	"github.com/Zynapses/Radiant-sub008/internal/breaker"
	"github.com/Zynapses/Radiant-sub008/internal/config"
	"github.com/Zynapses/Radiant-sub008/internal/eventlog"
	"github.com/Zynapses/Radiant-sub008/internal/heartbeat"
	"github.com/Zynapses/Radiant-sub008/internal/integration"
	"github.com/Zynapses/Radiant-sub008/internal/logging"
	"github.com/Zynapses/Radiant-sub008/internal/metrics"
	"github.com/Zynapses/Radiant-sub008/internal/model"
	"github.com/Zynapses/Radiant-sub008/internal/notify"
	"github.com/Zynapses/Radiant-sub008/internal/verify"
)

// #region main

func main() {
	dbPath := envOr("SENTINEL_DB", "sentinel.db")
	addr := envOr("SENTINEL_ADDR", ":8090")
	tenants := strings.Split(envOr("SENTINEL_TENANTS", "default"), ",")
	webhookURL := os.Getenv("SENTINEL_WEBHOOK_URL")
	debug := envOr("SENTINEL_DEBUG", "") != ""

	logger, err := logging.New(debug)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	events, err := eventlog.NewStore(dbPath)
	if err != nil {
		log.Fatalf("failed to open event log: %v", err)
	}
	defer events.Close()

	cfgStore, err := config.NewStore(events.DB())
	if err != nil {
		log.Fatalf("failed to init config store: %v", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var notifier notify.Notifier = notify.Nop{}
	if webhookURL != "" {
		notifier = notify.NewWebhook(0, logger.Named("notify"))
	}

	breakers, err := breaker.NewRegistry(events.DB(), logger.Named("breaker"), notifier, m, webhookURL)
	if err != nil {
		log.Fatalf("failed to init breakers: %v", err)
	}
	registerDefaultBreakers(breakers, tenants)

	estimator, err := integration.NewEstimator(events, logger.Named("integration"), m, integration.DefaultConfig())
	if err != nil {
		log.Fatalf("failed to init integration estimator: %v", err)
	}

	pipeline, err := buildPipeline(events, cfgStore, logger, m)
	if err != nil {
		log.Fatalf("failed to init verification pipeline: %v", err)
	}

	filter := belief.NewFilter(belief.DefaultConfig())
	heartbeats := heartbeat.NewRegistry(heartbeat.DefaultConfig(), events, filter, breakers,
		estimator, notifier, webhookURL, m, logger)
	for _, tenant := range tenants {
		heartbeats.For(strings.TrimSpace(tenant)).Start()
	}

	phiStop := startPhiLoop(estimator, tenants, logger)

	server := &http.Server{
		Addr:    addr,
		Handler: buildMux(registry, heartbeats, breakers, estimator, pipeline),
	}
	go func() {
		logger.Infow("sentinel listening", "addr", addr, "db", dbPath, "tenants", tenants)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("http server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Infow("shutting down")
	close(phiStop)
	heartbeats.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warnw("http shutdown dirty", "error", err)
	}
}

// #endregion main

// #region wiring

// registerDefaultBreakers creates the three named breaker rows for each
// tenant when missing. Failures are logged via the daemon log and skipped;
// rows are created lazily on first use anyway.
func registerDefaultBreakers(breakers *breaker.Registry, tenants []string) {
	names := []string{breaker.MasterSafetyBreaker, breaker.CostBreaker, breaker.AnxietyBreaker}
	for _, tenant := range tenants {
		for _, name := range names {
			if err := breakers.Register(context.Background(), strings.TrimSpace(tenant), name, breaker.DefaultConfig()); err != nil {
				log.Printf("register breaker %s/%s: %v", tenant, name, err)
			}
		}
	}
}

// buildPipeline wires the four verification phases. The generator is only
// attached when a model endpoint is configured; without one the consistency
// and shadow phases run in their degraded pattern-only modes.
func buildPipeline(events *eventlog.Store, cfgStore *config.Store, logger *zap.SugaredLogger, m *metrics.Metrics) (*verify.Pipeline, error) {
	verifyLog := logger.Named("verify")
	conf := verify.DefaultConfig()

	var gen model.Generator
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" || os.Getenv("OPENAI_BASE_URL") != "" {
		gen = model.NewOpenAIClient(
			os.Getenv("OPENAI_BASE_URL"),
			apiKey,
			envOr("OPENAI_MODEL", "gpt-4o-mini"),
		)
	} else {
		verifyLog.Infow("no model endpoint configured, consistency and shadow phases run pattern-only")
	}

	calibrator, err := verify.NewCalibrator(events.DB(), cfgStore, verifyLog, conf)
	if err != nil {
		return nil, err
	}
	return verify.NewPipeline(
		verify.NewGrounder(events, verifyLog, conf),
		calibrator,
		verify.NewChecker(gen, verifyLog, conf),
		verify.NewShadow(gen, verifyLog, conf),
		verifyLog, m, conf,
	), nil
}

// startPhiLoop recomputes the integration estimate for every tenant on a
// fixed cadence so heartbeat ticks always have a recent reading to stamp.
func startPhiLoop(estimator *integration.Estimator, tenants []string, logger *zap.SugaredLogger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, tenant := range tenants {
					reading := estimator.ComputePhiDetailed(context.Background(), strings.TrimSpace(tenant))
					logger.Debugw("phi recomputed", "tenant", tenant, "phi", reading.Phi)
				}
			}
		}
	}()
	return stop
}

// #endregion wiring

// #region http

func buildMux(registry *prometheus.Registry, heartbeats *heartbeat.Registry,
	breakers *breaker.Registry, estimator *integration.Estimator, pipeline *verify.Pipeline) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantParam(r)
		writeJSON(w, heartbeats.For(tenant).Status())
	})

	mux.HandleFunc("/ticks", func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantParam(r)
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		if n <= 0 {
			n = 20
		}
		writeJSON(w, heartbeats.For(tenant).History(n))
	})

	mux.HandleFunc("/breakers", func(w http.ResponseWriter, r *http.Request) {
		dashboard, err := breakers.Dashboard(r.Context(), tenantParam(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, dashboard)
	})

	mux.HandleFunc("/phi", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, estimator.ComputePhiDetailed(r.Context(), tenantParam(r)))
	})

	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Tenant        string  `json:"tenant"`
			ClaimText     string  `json:"claim_text"`
			ClaimType     string  `json:"claim_type"`
			Context       string  `json:"context"`
			RawConfidence float64 `json:"raw_confidence"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Tenant == "" {
			req.Tenant = "default"
		}
		writeJSON(w, pipeline.VerifyClaim(r.Context(), req.Tenant, req.ClaimText, req.ClaimType, req.Context, req.RawConfidence))
	})

	return mux
}

func tenantParam(r *http.Request) string {
	if t := r.URL.Query().Get("tenant"); t != "" {
		return t
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// #endregion http

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
