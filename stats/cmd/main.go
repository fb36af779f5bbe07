package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/han-fei/stackmon/internal/utils"
	"github.com/han-fei/stackmon/stats/internal/api"
	"github.com/han-fei/stackmon/stats/internal/collector"
	"github.com/han-fei/stackmon/stats/internal/config"
	"github.com/han-fei/stackmon/stats/internal/logging"
	"github.com/han-fei/stackmon/stats/internal/relay"
	"github.com/han-fei/stackmon/stats/internal/telemetry"
	"github.com/han-fei/stackmon/stats/internal/websocket"
)

type options struct {
	configPath string
	listen     string
	stacksDir  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "stackmon",
		Short:         "按堆栈采集docker compose统计并推送给订阅者",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径，为空时使用默认配置")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "覆盖监听地址，例如 :5001")
	cmd.Flags().StringVar(&opts.stacksDir, "stacks-dir", "", "覆盖堆栈目录")
	return cmd
}

// loadConfig 加载配置并应用命令行覆盖
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("加载配置失败: %w", err)
		}
		cfg = loaded
	}

	if opts.listen != "" {
		host, portStr, err := net.SplitHostPort(opts.listen)
		if err != nil {
			return nil, fmt.Errorf("监听地址不合法: %w", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("监听端口不合法: %w", err)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}
	if opts.stacksDir != "" {
		cfg.Collector.StacksDir = opts.stacksDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	directory := collector.NewDirectory(collector.OptionsFromConfig(cfg.Collector), logger, metrics)
	defer directory.Close()
	logger.Info("采集器目录初始化完成", zap.String("stacks_dir", cfg.Collector.StacksDir))

	// 创建WebSocket服务器
	wsServer := websocket.NewServer(cfg.WebSocket, cfg.Collector.StacksDir, directory, logger)
	wsServer.Start()
	defer wsServer.Stop()

	router := mux.NewRouter()
	router.HandleFunc(cfg.WebSocket.Path, wsServer.HandleWebSocket)
	api.NewAPIHandler(directory, wsServer, registry, logger).RegisterRoutes(router)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks, err := relay.BuildSinks(ctx, cfg.Relay, logger)
	if err != nil {
		return fmt.Errorf("创建转发通道失败: %w", err)
	}
	relayer := relay.NewRelay(cfg.Relay, cfg.Collector.StacksDir, directory, sinks, logger)
	defer func() {
		if err := relayer.Close(); err != nil {
			logger.Warn("关闭转发通道失败", zap.Error(err))
		}
	}()
	go utils.WrapPanic(logger, func() { relayer.Run(ctx) })()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP服务器启动", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("正在关闭服务...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP服务器错误: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP服务器关闭错误", zap.Error(err))
	}
	logger.Info("服务已关闭")
	return nil
}
