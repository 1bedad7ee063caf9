package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubev2v/qemu-backup-harness/internal/handlers"
	"github.com/kubev2v/qemu-backup-harness/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run history over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return err
		}
		if cfg.Harness.DataFolder == "" {
			return fmt.Errorf("serve requires --data-folder")
		}

		st, err := openStore(cmd.Context(), cfg.Harness.DataFolder)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		handler := handlers.New(st)
		srv := server.New(cfg, func(router *gin.RouterGroup) {
			handler.Register(router)
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			zap.S().Named("server").Errorw("shutdown failed", "error", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
