package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theomilll/atv-tinoco/internal/jobs"
	"github.com/theomilll/atv-tinoco/internal/rag"
	"github.com/theomilll/atv-tinoco/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the knowledge-base HTTP API",
	Long:  `Starts the HTTP server exposing document ingestion, hybrid retrieval, and retrieval-grounded conversations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack()
		if err != nil {
			return err
		}
		defer s.close()

		provider, err := s.provider()
		if err != nil {
			return fmt.Errorf("creating LLM provider: %w", err)
		}

		queue := jobs.NewInlineQueue(s.processor, nil)
		engine := rag.NewEngine(s.store, s.retriever, provider)
		engine.TopK = s.cfg.Retrieval.TopK

		srv := server.New(server.Config{
			Port:           s.cfg.Port,
			UploadDir:      s.cfg.UploadDir,
			MaxUploadBytes: s.cfg.MaxUploadBytes,
			AllowAll:       s.cfg.AllowAllOrigins,
		}, s.store, s.processor, queue, engine, s.retriever)

		errc := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errc:
			return err
		case <-stop:
		}

		fmt.Fprintln(os.Stderr, "shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		queue.Wait()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
