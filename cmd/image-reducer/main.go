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

	"image-reducer-go/internal/compressor"
	"image-reducer-go/internal/config"
	"image-reducer-go/internal/logger"
	"image-reducer-go/internal/resizer"
	"image-reducer-go/internal/router"
	"image-reducer-go/internal/statistics"
	"image-reducer-go/internal/watcher"
	"image-reducer-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	version   = "dev"
	configErr error
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-reducer <inputDir> <outputDir>",
	Short: "Watch a directory and write resized, compressed copies of PNG files",
	Long: `image-reducer watches an input directory for PNG files. Every created or
modified image is resized by the given ratio, compressed with pngquant and
written to the output directory as <name>-new.png. Deleting or renaming a
source removes its output.

The watcher runs until interrupted with SIGINT or SIGTERM, then prints a
summary of everything it processed.`,
	Version:       version,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), args)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().Float64("ratio", 1.0, "scale ratio in (0, 1]; 1 keeps the original dimensions")
	rootCmd.Flags().Int("status-port", 0, "serve status and a live feed on this port (0 disables)")
	rootCmd.Flags().Int("workers", 1, "number of serial processing lanes")

	_ = viper.BindPFlag("ratio", rootCmd.Flags().Lookup("ratio"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("status-port"))
	_ = viper.BindPFlag("processing.workers", rootCmd.Flags().Lookup("workers"))
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	configErr = config.Prepare(viper.GetViper(), cfgFile)
	if configErr == nil && viper.ConfigFileUsed() != "" && !quiet {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runWatch wires the pipeline and blocks until ctx is cancelled or a signal
// arrives.
func runWatch(parent context.Context, args []string) error {
	if configErr != nil {
		return fmt.Errorf("failed to load config: %w", configErr)
	}
	viper.Set("input_directory", args[0])
	viper.Set("output_directory", args[1])

	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := watcher.NewFSWatcher(cfg.WatcherConfig(), log)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	comp := compressor.NewPNGQuant(cfg.CompressionParams(), log)
	if err := comp.Check(); err != nil {
		log.Warnf("Compression tool unavailable, every file will fail to compress: %v", err)
	}

	stats := statistics.NewStatistics()
	rt := router.NewRouter(cfg.RouterConfig(), resizer.NewResizer(log), comp, stats, log)

	var server *web.Server
	if cfg.Server.Port > 0 {
		server = web.NewServer(cfg, log, stats)
		rt.SetObserver(server)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Status server failed: %v", err)
			}
		}()
	}

	events, err := source.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	log.WithFields(logrus.Fields{
		"input":   cfg.InputDirectory,
		"output":  cfg.OutputDirectory,
		"ratio":   cfg.Ratio,
		"tool":    cfg.Compressor.Tool,
		"workers": cfg.Processing.Workers,
	}).Info("Image reducer started")

	runErr := rt.Run(ctx, events)

	log.Info("Shutting down")
	if err := source.Stop(); err != nil {
		log.Warnf("Failed to stop watcher: %v", err)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Warnf("Status server shutdown failed: %v", err)
		}
	}

	logger.WithOperation(log, "shutdown").Info(stats.GetSummary())
	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
	}

	return runErr
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Falling back to console logging: %v", err)
	}

	return log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
