package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/macjediwizard/coursesync/internal/access"
	"github.com/macjediwizard/coursesync/internal/auth"
	"github.com/macjediwizard/coursesync/internal/scheduler"
	"github.com/macjediwizard/coursesync/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 5 * time.Minute // Manual sync runs answer synchronously
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

var skipValidation bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the sync scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "skip network checks of BASE_URL and the OIDC issuer at startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	log.Println("Starting CourseSync...")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !skipValidation {
		if err := a.cfg.Validate(ctx); err != nil {
			return err
		}
	}

	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	oidcProvider, err := auth.NewOIDCProvider(
		ctx,
		a.cfg.OIDC.Issuer,
		a.cfg.OIDC.ClientID,
		a.cfg.OIDC.ClientSecret,
		a.cfg.OIDC.RedirectURL,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize OIDC provider: %w", err)
	}

	sessionManager := auth.NewSessionManager(
		a.cfg.Security.SessionSecret,
		a.cfg.IsProduction(),
		a.cfg.Security.SessionMaxAgeSecs,
	)

	checker := access.NewChecker(a.db, a.cfg.Sync.RequirePremium)
	handlers := web.NewHandlers(a.cfg, a.db, oidcProvider, sessionManager, a.engine, checker)
	router := web.NewRouter(handlers, sessionManager)

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	sched := scheduler.New(a.db, a.engine, a.cfg.Sync.Schedule)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err = <-serverErr:
		log.Printf("Server error: %v", err)
	}

	log.Println("Shutting down server...")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Printf("Server forced to shutdown: %v", shutdownErr)
	}

	log.Println("Server stopped")
	return err
}
