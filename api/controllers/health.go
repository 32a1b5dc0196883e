package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/ridepay-backend/api/responses"
	"github.com/angelmondragon/ridepay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RidePay-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database and redis. Either failing marks the
// instance unready.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbPinger, redisPinger pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RidePay-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}
		var failed *pkgerrors.Error
		if dbPinger != nil {
			if err := dbPinger.Ping(ctx); err != nil {
				checks["database"] = "unavailable"
				failed = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database ping failed")
			}
		}
		if redisPinger != nil {
			if err := redisPinger.Ping(ctx); err != nil {
				checks["redis"] = "unavailable"
				failed = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis ping failed")
			}
		}
		if failed != nil {
			responses.WriteError(r.Context(), logg, w, failed.WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
