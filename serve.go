package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"patreonviewer/api"
	"patreonviewer/config"
	"patreonviewer/downloader"
	"patreonviewer/encoder"
	"patreonviewer/ffmpeg"
	"patreonviewer/task"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download/encode HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		gin.DisableConsoleColor()
	}

	// 1. Initialize the external tools
	ffmpegRunner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize ffmpeg runner: %w", err)
	}
	dl, err := downloader.NewExecDownloader(cfg.DLCommand)
	if err != nil {
		return fmt.Errorf("failed to initialize downloader: %w", err)
	}

	// 2. Initialize the job manager with both phases
	jobs, err := task.NewManager(cfg,
		downloader.NewSupervisor(dl, cfg.DataDir),
		encoder.New(ffmpegRunner, ffmpegRunner, cfg.TargetHeight),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize job manager: %w", err)
	}

	// 3. Set up router and server
	router := api.SetupRouter(jobs, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 4. Start background services and HTTP server
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := jobs.Start(ctx); err != nil {
		return err
	}
	defer jobs.Stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// 5. Wait for interrupt signal for graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		return fmt.Errorf("listen: %w", err)
	}

	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	// Open progress streams never finish on their own; Shutdown gives up on
	// them after the timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		_ = srv.Close()
	}

	log.Println("Server exiting")
	return nil
}
