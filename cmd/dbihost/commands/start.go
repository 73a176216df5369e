package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbihost/dbihost/internal/logger"
	"github.com/dbihost/dbihost/internal/usbtransport"
	"github.com/dbihost/dbihost/pkg/config"
	"github.com/dbihost/dbihost/pkg/installserver"
	"github.com/dbihost/dbihost/pkg/metrics"
	"github.com/dbihost/dbihost/pkg/progress"
	"github.com/dbihost/dbihost/pkg/registry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the USB install host",
	Long: `Start the dbihost USB install host with the specified configuration.

The host polls for a Switch in bulk USB install mode, answers LIST and
FILE_RANGE requests against the configured catalog, and reconnects
automatically when the device is unplugged.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/dbihost/config.yaml.

Examples:
  # Start with the default config
  dbihost start

  # Start with a custom config file
  dbihost start --config /etc/dbihost/config.yaml

  # Start with environment variable overrides
  DBIHOST_LOGGING_LEVEL=DEBUG dbihost start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("dbihost - USB title-install host")
	logger.Info("log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	reg := registry.NewMemoryRegistry()
	for _, entry := range cfg.Catalog {
		if err := reg.Add(entry.Name, entry.Path); err != nil {
			logger.Warn("skipping catalog entry", "name", entry.Name, "path", entry.Path, logger.Err(err))
			continue
		}
	}
	logger.Info("catalog loaded", "entries", reg.Count())

	rec := progress.NewRecorder()

	if cfg.Metrics.Enabled {
		metrics.Init()
		metricsSrv := metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port))
		go func() {
			if err := metricsSrv.Start(ctx); err != nil {
				logger.Error("metrics server stopped", logger.Err(err))
			}
		}()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("metrics disabled")
	}

	usbCfg := usbtransport.Config{
		VendorID:     cfg.USB.GousbVendorID(),
		ProductID:    cfg.USB.GousbProductID(),
		Interface:    cfg.USB.Interface,
		ShortTimeout: cfg.USB.ShortTimeout,
		LongTimeout:  cfg.USB.LongTimeout,
	}
	connect := func() (installserver.Transport, error) {
		return usbtransport.Connect(nil, usbCfg)
	}

	server := installserver.New(reg, rec, connect, installserver.Config{
		ReconnectAttempts: cfg.USB.ReconnectAttempts,
		ReconnectInterval: cfg.USB.ReconnectInterval,
		PipeRetryDelay:    cfg.USB.PipeRetryDelay,
		ChunkSize:         cfg.USB.ChunkSizeBytes(),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping")
		server.Stop()
		cancel()
	}()

	logger.Info("waiting for device", "vendor_id", cfg.USB.VendorID, "product_id", cfg.USB.ProductID)

	if err := server.Start(ctx); err != nil {
		logger.Error("host stopped with error", logger.Err(err))
		return err
	}

	logger.Info("host stopped")
	return nil
}
