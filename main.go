package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	ackapp "irrigation-cloud/internal/acks/application"
	ackrepo "irrigation-cloud/internal/acks/infrastructure/postgres"
	"irrigation-cloud/internal/auth"
	devicerepo "irrigation-cloud/internal/devices/infrastructure/postgres"
	"irrigation-cloud/internal/eventing"
	historyapp "irrigation-cloud/internal/history/application"
	historyrepo "irrigation-cloud/internal/history/infrastructure/postgres"
	"irrigation-cloud/internal/messaging"
	"irrigation-cloud/internal/observability/metrics"
	plantrepo "irrigation-cloud/internal/plants/infrastructure/postgres"
	"irrigation-cloud/internal/reports"
	shadowapp "irrigation-cloud/internal/shadow/application"
	shadowrepo "irrigation-cloud/internal/shadow/infrastructure/postgres"
	transportmqtt "irrigation-cloud/internal/transport/mqtt"
	wateringapp "irrigation-cloud/internal/watering/application"
	wateringhttp "irrigation-cloud/internal/watering/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	irrigationCfg, err := wateringapp.LoadConfig()
	if err != nil {
		logger.Fatalf("irrigation config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	deviceRepo := devicerepo.NewDeviceRepository(db)
	plantRepo := plantrepo.NewPlantRepository(db)
	stateRepo := shadowrepo.NewStateRepository(db)
	ackRecordRepo := ackrepo.NewAckRepository(db)
	historyRepo := historyrepo.NewHistoryRepository(db)

	shadowStore, err := shadowapp.NewStore(stateRepo, deviceRepo, irrigationCfg.OnlineThreshold(), logger)
	if err != nil {
		logger.Fatalf("shadow store error: %v", err)
	}
	ackStore, err := ackapp.NewStore(ackRecordRepo, irrigationCfg.AckTTL(), logger)
	if err != nil {
		logger.Fatalf("ack store error: %v", err)
	}

	cleanup, err := ackapp.NewCleanupWorker(ackRecordRepo, irrigationCfg.AckTTL(), irrigationCfg.AckCleanupPeriod(), logger)
	if err != nil {
		logger.Fatalf("ack cleanup error: %v", err)
	}
	go cleanup.Run(context.Background())

	bus := eventing.NewInMemoryBus()
	recorder, err := historyapp.NewRecorder(historyRepo, plantRepo, logger)
	if err != nil {
		logger.Fatalf("history recorder error: %v", err)
	}
	recorder.Wire(bus)

	mqttClient, err := transportmqtt.NewClient(transportmqtt.Config{
		BrokerHost: irrigationCfg.MQTT.Host,
		BrokerPort: irrigationCfg.MQTT.Port,
		ClientID:   irrigationCfg.MQTT.ClientID,
		Username:   irrigationCfg.MQTT.Username,
		Password:   irrigationCfg.MQTT.Password,
		UseTLS:     irrigationCfg.MQTT.UseTLS,
	}, logger)
	if err != nil {
		logger.Fatalf("mqtt client error: %v", err)
	}
	if err := mqttClient.Connect(); err != nil {
		logger.Fatalf("mqtt connect error: %v", err)
	}
	defer mqttClient.Disconnect()

	messageHandler, err := messaging.NewHandler(shadowStore, ackStore, deviceRepo, bus, logger)
	if err != nil {
		logger.Fatalf("message handler error: %v", err)
	}
	for _, filter := range []string{messaging.StateTopicFilter, messaging.AckTopicFilter} {
		if err := mqttClient.Subscribe(filter, messageHandler.Handle); err != nil {
			logger.Fatalf("mqtt subscribe %s error: %v", filter, err)
		}
	}

	wateringService, err := wateringapp.NewService(mqttClient, shadowStore, ackStore, deviceRepo, plantRepo, bus, irrigationCfg, logger)
	if err != nil {
		logger.Fatalf("watering service error: %v", err)
	}
	wateringHandler, err := wateringhttp.NewHandler(wateringService)
	if err != nil {
		logger.Fatalf("watering handler error: %v", err)
	}
	reportHandler, err := reports.NewHandler(historyRepo)
	if err != nil {
		logger.Fatalf("report handler error: %v", err)
	}

	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), []string{"/healthz", "/metrics"})

	mux := http.NewServeMux()
	mux.Handle("/api/v1/watering/start", wateringHandler)
	mux.Handle("/api/v1/watering/stop", wateringHandler)
	mux.Handle("/api/v1/watering/reboot", wateringHandler)
	mux.Handle("/api/v1/watering/status", wateringHandler)
	mux.Handle("/api/v1/watering/acks", wateringHandler)
	mux.Handle("/api/v1/watering/acks/wait", wateringHandler)
	mux.Handle("/api/v1/reports/watering.xlsx", reportHandler)
	mux.Handle("/api/v1/reports/watering.pdf", reportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL string
	HTTPAddr    string
	JWTSecret   string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", os.Getenv("PG_DSN")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:   getenvDefault("AUTH_JWT_SECRET", os.Getenv("JWT_SECRET")),
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
		started := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(started))
	})
}
