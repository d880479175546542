package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"quantcore/internal/app"
	"quantcore/internal/config"
	"quantcore/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("读取 .env 失败: %v", err)
	}
	defaultPath := os.Getenv("QUANTCORE_CONFIG")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	cfgPath := flag.String("config", defaultPath, "配置文件路径")
	watch := flag.Bool("watch", false, "配置文件变化后重新运行")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !*watch {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("读取配置失败: %v", err)
		}
		if err := runOnce(ctx, cfg); err != nil {
			log.Fatalf("运行失败: %v", err)
		}
		return
	}

	w, err := config.Watch(*cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	changed := make(chan *config.Config, 1)
	w.Subscribe(func(cfg *config.Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	cfg := w.Current()
	for {
		if err := runOnce(ctx, cfg); err != nil {
			logger.Errorf("运行失败: %v", err)
		}
		logger.Infof("等待配置变化（version=%d）...", w.Version())
		select {
		case <-ctx.Done():
			return
		case cfg = <-changed:
		}
	}
}

func runOnce(ctx context.Context, cfg *config.Config) error {
	closers, err := setupLogging(cfg.App)
	if err != nil {
		return err
	}
	defer func() {
		logger.SetSignalWriter(nil)
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	logger.Infof("✓ 配置加载成功（环境=%s，策略=%d）", cfg.App.Env, len(cfg.Strategies))

	a, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}

func setupLogging(cfg config.AppConfig) ([]io.Closer, error) {
	logger.SetLevel(cfg.LogLevel)
	var closers []io.Closer
	if strings.TrimSpace(cfg.LogPath) != "" {
		rotator, err := logger.SetFile(logger.FileOptions{
			Path:       cfg.LogPath,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxAgeDays: cfg.LogMaxAgeDays,
			MaxBackups: cfg.LogMaxBackups,
			Tee:        cfg.LogStdout,
		})
		if err != nil {
			return nil, err
		}
		closers = append(closers, rotator)
	}
	logger.SetSignalWriter(nil)
	logger.EnableSignalDump(cfg.SignalDump)
	if cfg.SignalDump {
		f, err := setupSignalLogOutput(cfg.LogPath)
		if err != nil {
			return closers, err
		}
		if f != nil {
			closers = append(closers, f)
		}
	}
	return closers, nil
}

// setupSignalLogOutput 在主日志旁写 signals.log。
func setupSignalLogOutput(logPath string) (*os.File, error) {
	dir := "logs"
	if strings.TrimSpace(logPath) != "" {
		dir = filepath.Dir(logPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "signals.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetSignalWriter(f)
	return f, nil
}
