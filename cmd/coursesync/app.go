package main

import (
	"fmt"
	"log"
	"time"

	"github.com/macjediwizard/coursesync/internal/activity"
	"github.com/macjediwizard/coursesync/internal/calsync"
	"github.com/macjediwizard/coursesync/internal/config"
	"github.com/macjediwizard/coursesync/internal/crypto"
	"github.com/macjediwizard/coursesync/internal/db"
	"github.com/macjediwizard/coursesync/internal/gcal"
	"github.com/macjediwizard/coursesync/internal/notify"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	db       *db.DB
	notifier *notify.Notifier
	engine   *calsync.Engine
}

// newApp loads configuration and wires the store, token provider, notifier
// and sync engine.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	notifyCfg := &notify.Config{
		WebhookEnabled: cfg.Alerts.WebhookEnabled,
		WebhookURL:     cfg.Alerts.WebhookURL,
		EmailEnabled:   cfg.Alerts.EmailEnabled,
		SMTPHost:       cfg.Alerts.SMTPHost,
		SMTPPort:       cfg.Alerts.SMTPPort,
		SMTPUsername:   cfg.Alerts.SMTPUsername,
		SMTPPassword:   cfg.Alerts.SMTPPassword,
		SMTPFrom:       cfg.Alerts.SMTPFrom,
		SMTPTo:         cfg.Alerts.SMTPTo,
		SMTPTLS:        cfg.Alerts.SMTPTLS,
		CooldownPeriod: time.Duration(cfg.Alerts.CooldownMinutes) * time.Minute,
	}

	if notifyCfg.WebhookEnabled || notifyCfg.EmailEnabled {
		if err := notify.ValidateConfig(notifyCfg); err != nil {
			database.Close()
			return nil, fmt.Errorf("invalid alert configuration: %w", err)
		}
	}

	notifier := notify.New(notifyCfg, database)
	if notifier.IsEnabled() {
		log.Printf("Alert notifications enabled (webhook: %v, email: %v, cooldown: %d min)",
			cfg.Alerts.WebhookEnabled, cfg.Alerts.EmailEnabled, cfg.Alerts.CooldownMinutes)
	}

	oauthConfig := gcal.NewOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
	tokens := gcal.NewTokenProvider(oauthConfig, encryptor, database)

	engine := calsync.NewEngine(database, tokens, calsync.GoogleCalendars(gcal.NewLimiterPool(cfg.Sync.CallInterval)), calsync.Options{
		Cooldown: cfg.Sync.Cooldown,
		Location: cfg.Sync.Location,
		Tracker:  activity.NewTracker(),
		Alerter:  notifier,
	})

	return &app{
		cfg:      cfg,
		db:       database,
		notifier: notifier,
		engine:   engine,
	}, nil
}

// Close waits for pending alerts and closes the database.
func (a *app) Close() {
	a.notifier.Wait()
	if err := a.db.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}
