package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"spotted/server/internal/api"
	"spotted/server/internal/config"
	"spotted/server/internal/domain"
	"spotted/server/internal/kv"
	"spotted/server/internal/photostore"
	"spotted/server/internal/session"
	"spotted/server/internal/timeline"
)

func main() {
	// 参数用 flag，部署相关的覆盖项（地址、存储位置）走环境变量，见 config.Load。
	configPath := flag.String("config", "server/configs/config.yaml", "config file path")
	addr := flag.String("addr", "", "http listen address (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer closeLog()

	backend, err := openBackend(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer backend.Close()

	changes := timeline.NewInMemoryStore()
	photos := photostore.New(backend, photostore.Options{
		Key:     cfg.Storage.Key,
		Changes: changes,
		Logger:  logger,
	})

	if cfg.Paths.Seed != "" {
		seed, err := domain.LoadSeedPhotos(cfg.Paths.Seed)
		if err != nil {
			logger.Fatalf("load seed: %v", err)
		}
		if _, err := domain.Seed(context.Background(), photos, seed, logger); err != nil {
			logger.Fatalf("seed photos: %v", err)
		}
	}

	server := api.NewServer(cfg, photos, session.NewInMemoryStore(), changes, logger)
	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     server.Routes(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// websocket 连接是长连接，写超时由 Viewer 自己按帧设置
		WriteTimeout: 0,
	}

	go func() {
		logger.Printf("spotted server listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Printf("shutting down...")
	server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

// loadConfig 在配置文件不存在时退回默认值，方便本地直接 go run。
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Printf("config %s not found, using defaults", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig) (*log.Logger, func(), error) {
	flags := log.LstdFlags
	if cfg.PrefixFlags {
		flags = log.LstdFlags | log.Lmicroseconds
	}
	if cfg.Output == "" {
		logger := log.New(os.Stderr, "", flags)
		log.SetFlags(flags)
		return logger, func() {}, nil
	}

	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	log.SetFlags(flags)
	return log.New(f, "", flags), func() { _ = f.Close() }, nil
}

func openBackend(cfg config.StorageConfig, logger *log.Logger) (kv.Backend, error) {
	switch cfg.Backend {
	case "file":
		return kv.NewFileBackend(cfg.Path, logger)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return kv.OpenSQLite(cfg.Path, logger)
	default:
		logger.Printf("⚠️  using in-memory storage, photos are lost on restart")
		return kv.NewInMemoryBackend(), nil
	}
}
