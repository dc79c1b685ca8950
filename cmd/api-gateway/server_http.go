package main

import (
	"net/http"
	"time"

	config "github.com/NordCoder/Leadbook/internal/config/api-gateway"
	"github.com/NordCoder/Leadbook/internal/obs"
	authsvc "github.com/NordCoder/Leadbook/internal/services/api-gateway/auth"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func buildHTTPServer(cfg *config.Config, logger *zap.Logger, uc *authsvc.Usecase, checks map[string]obs.HealthFunc) *http.Server {
	r := mux.NewRouter()
	r.Use(authsvc.RequestLogger(logger))

	authsvc.NewController(uc, authsvc.Opts{
		Logger:            logger,
		CookieName:        cfg.Auth.CookieName,
		CookieDomain:      cfg.Auth.CookieDomain,
		CookiePath:        cfg.Auth.CookiePath,
		CookieSecure:      cfg.Auth.CookieSecure,
		CookieSameSite:    cfg.Auth.SameSite(),
		LegacyBodyRefresh: cfg.Auth.LegacyBodyRefresh,
		Dev:               cfg.App.Dev(),
	}).Register(r)

	r.Handle("/metrics", obs.MetricsHandler()).Methods(http.MethodGet)
	r.Handle("/healthz", obs.HealthHandler(checks)).Methods(http.MethodGet)

	// CORS sits outside the router so preflights never hit method matching.
	handler := authsvc.CORS(cfg.Auth.CORSOrigins)(obs.HTTPHandler(r, "api-gateway"))

	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func serveHTTP(srv *http.Server, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("addr", srv.Addr))
	return srv.ListenAndServe()
}
