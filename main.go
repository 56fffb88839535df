package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "coldchain-cloud/internal/alerts/interfaces/http"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/engine"
	fleetrepo "coldchain-cloud/internal/fleet/infrastructure/postgres"
	notifications "coldchain-cloud/internal/notifications/domain"
	notifrepo "coldchain-cloud/internal/notifications/infrastructure/postgres"
	"coldchain-cloud/internal/notifications/notify"
	"coldchain-cloud/internal/observability/metrics"
	"coldchain-cloud/internal/reporting"
	rulerepo "coldchain-cloud/internal/rules/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	engineCfg, err := engine.LoadConfig()
	if err != nil {
		logger.Fatalf("engine config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	unitRepo := fleetrepo.NewUnitRepository(db)
	ruleRepo := rulerepo.NewRuleOverrideRepository(db)
	policyRepo := notifrepo.NewPolicyOverrideRepository(db)
	alertRepo := alertrepo.NewAlertRepository(db)
	contactRepo := notifrepo.NewContactRepository(db)
	deliveryRepo := notifrepo.NewDeliveryRepository(db)

	webhooks := make(map[notifications.Channel]string, len(engineCfg.ChannelWebhooks))
	for channel, url := range engineCfg.ChannelWebhooks {
		webhooks[notifications.Channel(channel)] = url
	}
	transport, err := notify.NewWebhookTransport(webhooks)
	if err != nil {
		logger.Fatalf("notify transport error: %v", err)
	}
	template, err := notify.NewTemplate(engineCfg.MessageTemplate)
	if err != nil {
		logger.Fatalf("notify template error: %v", err)
	}
	dispatcher, err := notify.NewDispatcher(transport, contactRepo, template, logger,
		notify.WithRecorder(deliveryRepo),
		notify.WithRequestTimeout(time.Duration(engineCfg.DeliveryTimeoutSeconds)*time.Second))
	if err != nil {
		logger.Fatalf("notify dispatcher error: %v", err)
	}
	defer dispatcher.Close()

	broker := alerthttp.NewSSEBroker()
	eng, err := engine.New(engineCfg, unitRepo, ruleRepo, policyRepo, alertRepo, dispatcher,
		engine.WithBroadcaster(broker),
		engine.WithLogger(logger))
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}
	go eng.Run(context.Background())

	alertHandler, err := alerthttp.NewHandler(alertRepo, eng, eng, engineCfg.OrgID, auditRepo)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	reportHandler, err := reporting.NewHandler(alertRepo, engineCfg.OrgID, cfg.OrgName, auditRepo)
	if err != nil {
		logger.Fatalf("reporting handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/history", alertHandler)
	mux.Handle("/api/v1/alerts/history/export.xlsx", reportHandler)
	mux.Handle("/api/v1/alerts/history/export.pdf", reportHandler)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/units/status", alertHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL string
	HTTPAddr    string
	OrgName     string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		OrgName:     getenvDefault("ORG_NAME", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working behind the logging middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
