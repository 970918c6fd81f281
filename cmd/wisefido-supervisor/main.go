package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-supervisor/internal/config"
	"wisefido-supervisor/internal/dataservice"
	"wisefido-supervisor/internal/logger"
	"wisefido-supervisor/internal/metrics"
	"wisefido-supervisor/internal/roster"
	"wisefido-supervisor/internal/session"
	"wisefido-supervisor/internal/store"
	"wisefido-supervisor/internal/stream"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-supervisor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting wisefido-supervisor",
		zap.String("role", cfg.Session.Role),
		zap.String("transport", cfg.Stream.Transport),
		zap.String("store", cfg.Store.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis 客户端（KV 或事件流使用 redis 时才需要）
	var redisClient *redis.Client
	if cfg.Store.Backend == config.StoreRedis || cfg.Stream.Transport == config.TransportRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	// 本地 KV：登录 token 与每日重置标记
	var kv store.KV
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		sqliteKV, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			log.Fatal("Failed to open sqlite store", zap.String("path", cfg.Store.SQLitePath), zap.Error(err))
		}
		defer sqliteKV.Close()
		kv = sqliteKV
	default:
		kv = store.NewRedisKV(redisClient)
	}

	data := dataservice.NewClient(
		cfg.DataService.BaseURL,
		time.Duration(cfg.DataService.Timeout)*time.Second,
		cfg.DataService.RetryCount,
		log,
	)

	scope := stream.Scope{Broadcast: cfg.Broadcast(), UserID: cfg.Session.UserID}

	var source stream.Source
	switch cfg.Stream.Transport {
	case config.TransportMQTT:
		source = stream.NewMQTTSource(cfg.MQTT, cfg.Stream.TopicPrefix, scope, log)
	case config.TransportRedis:
		source = stream.NewRedisSource(redisClient, cfg.Stream.RedisStream, cfg.Stream.ConsumerGroup, int64(cfg.Stream.BatchSize), log)
	default:
		source = stream.NewWSSource(cfg.Stream.URL, scope, log)
	}

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server stopped", zap.Error(err))
			}
		}()
		log.Info("Metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
	}

	// 创建会话
	sess, err := session.New(session.Deps{
		DataService: data,
		Source:      source,
		KV:          kv,
		Metrics:     recorder,
		Logger:      log,
	}, session.OptionsFromConfig(cfg))
	if err != nil {
		log.Fatal("Failed to create session", zap.Error(err))
	}

	if token := os.Getenv("SUPERVISOR_TOKEN"); token != "" {
		if err := sess.Login(ctx, token); err != nil {
			log.Warn("Failed to store auth token", zap.Error(err))
		}
	}

	if err := sess.Start(ctx); err != nil {
		log.Fatal("Failed to start session", zap.Error(err))
	}

	go func() {
		for change := range sess.StatusChanges() {
			log.Info("Employee status changed",
				zap.String("employee_id", change.EmployeeID),
				zap.String("name", change.Name),
				zap.String("previous", string(change.Previous)),
				zap.String("current", string(change.Current)),
			)
		}
	}()

	// 监听系统信号；SIGHUP 导出花名册
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			exportRoster(sess, cfg.Export.Path, log)
			continue
		}
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		break
	}

	cancel()
	sess.Stop()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Error stopping metrics server", zap.Error(err))
		}
	}

	log.Info("Service stopped")
}

func exportRoster(sess *session.Session, path string, log *zap.Logger) {
	if path == "" {
		log.Warn("Export path not configured, skipping roster export")
		return
	}
	data, err := sess.Export(roster.Filter{})
	if err != nil {
		log.Error("Failed to export roster", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error("Failed to write roster export", zap.String("path", path), zap.Error(err))
		return
	}
	log.Info("Roster exported", zap.String("path", path), zap.Int("bytes", len(data)))
}
