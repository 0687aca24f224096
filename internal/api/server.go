package api

import (
	"context"
	"net/http"
	"os"
	"strings"

	"partsopt/internal/auth"
	"partsopt/internal/config"
	"partsopt/internal/events"
	"partsopt/internal/store"
	"partsopt/internal/webhooks"
)

type Server struct {
	Cfg     config.Config
	Store   store.Store
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker
	Events  *events.KafkaPublisher
	limiter *tenantLimiter
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if envOr("DB_MIGRATE", "true") != "false" {
			_ = sp.MigrateDir("db/migrations")
		}
		s = sp
	}
	// Broker selection
	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	var ev *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		ev = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	return &Server{
		Cfg:     cfg,
		Store:   s,
		Pub:     webhooks.NewPublisher(s),
		Auth:    auth.NewVerifierFromEnv(),
		Broker:  broker,
		Events:  ev,
		limiter: newTenantLimiter(cfg.RateRPS, cfg.RateBurst),
	}, nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	tenant := s.getPrincipal(r).Tenant
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	w := webhooks.NewWorker(s.Store)
	if s.Cfg.WebhookMaxAttempts > 0 {
		w.MaxAttempts = s.Cfg.WebhookMaxAttempts
	}
	return w
}
