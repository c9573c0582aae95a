package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"

	"github.com/xinkaiwang/goraylet/internal/biz"
	"github.com/xinkaiwang/goraylet/internal/config"
	"github.com/xinkaiwang/goraylet/internal/handler"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// 构建时注入的版本信息
var Version string = "dev"
var GitCommit string = "unknown"

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

/*
export RAYLET_CONFIG=/etc/raylet/config.json
export API_PORT=8080
export METRICS_PORT=9090
export LOG_LEVEL=info
export LOG_FORMAT=json
./bin/rayletd
*/
func main() {
	ctx := context.Background()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	logrusLogger := klogging.NewLogrusLogger(ctx)
	logrusLogger.SetConfig(ctx, logLevel, logFormat)
	klogging.SetDefaultLogger(logrusLogger)
	klogging.Info(ctx).With("logLevel", logLevel).With("logFormat", logFormat).Log("LogLevelSet", "")

	klogging.Info(ctx).With("version", Version).With("commit", GitCommit).Log("ServerStarting", "Starting rayletd")

	// load raylet config (defaults when no file is given)
	cfg := config.NewRayletConfig()
	if configPath := os.Getenv("RAYLET_CONFIG"); configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			log.Fatalf("Failed to read config file %s: %v", configPath, err)
		}
		cfg = config.RayletConfigFromJson(string(content))
	}

	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "raylet",
	})
	if err != nil {
		log.Fatalf("Failed to create Prometheus exporter: %v", err)
	}

	apiPort := getEnvInt("API_PORT", 8080)
	metricsPort := getEnvInt("METRICS_PORT", 9090)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", pe)

	app := biz.NewApp(ctx, cfg)
	h := handler.NewHandler(app)
	mainMux := http.NewServeMux()
	h.RegisterRoutes(mainMux)

	mainServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", apiPort),
		Handler: mainMux,
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", metricsPort),
		Handler: metricsMux,
	}

	klogging.Info(ctx).
		With("api_port", apiPort).
		With("metrics_port", metricsPort).
		With("gcs_storage", string(cfg.GcsStorage)).
		Log("ServerConfig", "Server ports configuration")

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		klogging.Info(ctx).Log("ServerShutdown", "Shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := mainServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).With("error", err).Log("MainServerShutdownError", "Main server shutdown error")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).With("error", err).Log("MetricsServerShutdownError", "Metrics server shutdown error")
		}
		app.StopAndWaitForExit(ctx)
	}()

	go func() {
		klogging.Info(ctx).With("addr", metricsServer.Addr).Log("MetricsServerStart", "Metrics server starting")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			klogging.Error(ctx).With("error", err).Log("MetricsServerError", "Metrics server error")
		}
	}()

	klogging.Info(ctx).With("addr", mainServer.Addr).Log("MainServerStart", "Main server starting")
	if err := mainServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	klogging.Info(ctx).Log("ServerStopped", "Server stopped")
}
