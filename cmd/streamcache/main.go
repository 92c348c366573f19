package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/streamcache/internal/api"
	"github.com/lakefront/streamcache/internal/cache"
	"github.com/lakefront/streamcache/internal/config"
	"github.com/lakefront/streamcache/internal/source"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	config.LoadFromEnv(cfg)

	if cfg.Source.URL == "" {
		logger.Fatal("no source configured (source.url or STREAMCACHE_SOURCE_URL)")
	}

	src, size, closeSrc, err := buildSource(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open source", zap.Error(err))
	}
	defer closeSrc()

	if cfg.Source.ThrottleBytesPerSec > 0 {
		src = source.NewThrottledSource(src,
			cfg.Source.ThrottleBytesPerSec, cache.DefaultPageSize)
	}

	params := buildParams(cfg, logger)
	cs := cache.New(src, params, logger)
	defer func() { _ = cs.Close() }()

	server := api.NewServer(cfg, logger, cs, size)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("streamcache starting",
		zap.String("source", cfg.Source.URL),
		zap.Int("port", cfg.Server.Port),
		zap.Int64("high_water", params.HighWaterBytes),
		zap.Int64("low_water", params.LowWaterBytes))

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// buildSource opens the configured source. It returns the stream size when
// known, -1 otherwise.
func buildSource(cfg *config.Config, logger *zap.Logger) (source.Source, int64, func(), error) {
	u, err := url.Parse(cfg.Source.URL)
	if err != nil {
		return nil, 0, nil, err
	}

	switch u.Scheme {
	case "", "file":
		fs, err := source.OpenFile(u.Path)
		if err != nil {
			return nil, 0, nil, err
		}
		size := int64(-1)
		if st, err := os.Stat(u.Path); err == nil {
			size = st.Size()
		}
		return fs, size, func() { _ = fs.Close() }, nil

	case "http", "https":
		hs := source.NewHTTPSource(cfg.Source.URL, nil, logger)
		return hs, -1, func() { _ = hs.Close() }, nil

	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ss, err := source.NewS3Source(ctx, source.S3Config{
			Endpoint:  cfg.Source.Endpoint,
			Region:    cfg.Source.Region,
			AccessKey: cfg.Source.AccessKey,
			SecretKey: cfg.Source.SecretKey,
			Bucket:    u.Host,
			Key:       strings.TrimPrefix(u.Path, "/"),
		}, logger)
		if err != nil {
			return nil, 0, nil, err
		}
		return ss, ss.Size(), func() {}, nil

	default:
		return nil, 0, nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func buildParams(cfg *config.Config, logger *zap.Logger) cache.Params {
	params := cache.DefaultParams()

	if cfg.Cache.PageSizeBytes > 0 {
		params.PageSize = cfg.Cache.PageSizeBytes
	}
	if cfg.Cache.HighWaterBytes > 0 {
		params.HighWaterBytes = cfg.Cache.HighWaterBytes
	}
	if cfg.Cache.LowWaterBytes > 0 {
		params.LowWaterBytes = cfg.Cache.LowWaterBytes
	}
	if cfg.Cache.KeepAliveSeconds > 0 {
		params.KeepAliveInterval = time.Duration(cfg.Cache.KeepAliveSeconds) * time.Second
	}
	if cfg.Cache.MaxRetries > 0 {
		params.MaxRetries = cfg.Cache.MaxRetries
	}
	if cfg.Cache.Watermarks != "" {
		params.ApplySpec(cfg.Cache.Watermarks, logger)
	}
	return params
}
