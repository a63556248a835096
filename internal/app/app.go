// Package app wires configuration, storage, and the HTTP surface into
// a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/stagecraft-ai/usagegate/internal/config"
	"github.com/stagecraft-ai/usagegate/internal/costs"
	"github.com/stagecraft-ai/usagegate/internal/db"
	"github.com/stagecraft-ai/usagegate/internal/guard"
	adminapi "github.com/stagecraft-ai/usagegate/internal/http/api/admin"
	"github.com/stagecraft-ai/usagegate/internal/http/api/front"
	"github.com/stagecraft-ai/usagegate/internal/identity"
	"github.com/stagecraft-ai/usagegate/internal/quota"
	"github.com/stagecraft-ai/usagegate/internal/ratelimit"
	"github.com/stagecraft-ai/usagegate/internal/resetclock"
	internalsettings "github.com/stagecraft-ai/usagegate/internal/settings"
	"github.com/stagecraft-ai/usagegate/internal/telemetry"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the usage gate server. When no database DSN is
// configured the server still starts: anonymous traffic is served from
// the in-process limits and authenticated traffic is answered with the
// not-configured error until an operator supplies a DSN.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	jwtCfg, _ := config.LoadJWTConfig(configPath)
	guardCfg, _ := config.LoadGuardConfig(configPath)

	var conn *gorm.DB
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	switch {
	case errDSN == nil:
		opened, errOpen := db.Open(dsn)
		if errOpen != nil {
			return errOpen
		}
		if errMigrate := db.Migrate(opened); errMigrate != nil {
			return errMigrate
		}
		conn = opened
	case errors.Is(errDSN, config.ErrMissingDatabaseDSN):
		log.Warn("no database dsn configured, serving anonymous traffic only")
	default:
		return errDSN
	}

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		engine   *quota.Engine
		recorder *telemetry.Recorder
	)
	clock := resetclock.New(guardCfg.ResetTimezone, guardCfg.ResetHour)
	if conn != nil {
		if errAdmin := EnsureAdmin(conn); errAdmin != nil {
			return errAdmin
		}
		internalsettings.NewPoller(conn).Start(serverCtx)
		recorder = telemetry.NewRecorder(conn)
		recorder.Start(serverCtx)
		engine = quota.NewEngine(conn, clock)
	}

	resolver := identity.NewResolver(jwtCfg.Secret, guardCfg.IPHashSalt)
	limiter := ratelimit.NewManager(nil, nil, nil)
	costTable := costs.Load(guardCfg.CostTablePath)
	usageGuard := guard.New(resolver, limiter, engine, recorder, costTable, clock)

	r := gin.New()
	r.Use(gin.Recovery())
	front.RegisterFrontRoutes(r, usageGuard)
	if conn != nil {
		adminapi.RegisterAdminRoutes(r, conn, jwtCfg)
	} else {
		r.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "not-configured"})
		})
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	go func() {
		<-serverCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("http server shutdown failed")
		}
	}()

	log.Infof("usage gate listening on %s", srv.Addr)
	if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return errServe
	}
	if recorder != nil {
		recorder.Stop()
	}
	return nil
}
