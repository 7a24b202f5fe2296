package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/lib/pq"

	"mathilda/internal/audit"
	auditmemory "mathilda/internal/audit/store/memory"
	auditpostgres "mathilda/internal/audit/store/postgres"
	"mathilda/internal/integration"
	"mathilda/internal/leavesync"
	"mathilda/internal/permission"
	"mathilda/internal/permission/cache"
	"mathilda/internal/permission/directory"
	permmemory "mathilda/internal/permission/store/memory"
	permpostgres "mathilda/internal/permission/store/postgres"
	"mathilda/internal/platform/config"
	"mathilda/internal/platform/httpserver"
	"mathilda/internal/platform/logger"
	platformredis "mathilda/internal/platform/redis"
	"mathilda/internal/transport/ops"
)

// main wires the integration core: the event bus with its profiler, the
// permission service over the two-level cache, the audit trail, the
// leave-to-planning synchronizer, and the operational HTTP surface.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	rdb, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("postgres ping: %v", err)
		}
	}

	profiler := integration.NewProfiler(log, integration.DefaultProfilerConfig())
	bus := integration.NewBus(log, profiler)

	var auditStore audit.Store
	if db != nil {
		auditStore = auditpostgres.NewPostgres(db)
	} else {
		auditStore = auditmemory.NewInMemoryStore()
	}
	auditSvc := audit.NewService(log, auditStore, bus)

	var kv cache.KVStore
	if rdb != nil {
		kv = cache.NewRedisKV(rdb.Client)
	} else {
		kv = cache.NewMemoryKV()
	}
	cacheCfg := cache.DefaultConfig()
	cacheCfg.PrefetchedPermissions = permission.FrequentPermissions()
	permCache := cache.New(log, kv, cacheCfg)

	var permStore permission.Store
	if db != nil {
		permStore = permpostgres.NewPostgres(db)
	} else {
		permStore = permmemory.NewInMemoryStore()
	}
	dir := directory.NewMemoryDirectory()
	permSvc := permission.NewService(log, bus, permCache, permStore, dir, auditSvc)

	syncSvc := leavesync.NewService(log, bus,
		leavesync.NewMemoryCalendar(), leavesync.NewMemoryPlanning())

	handler := ops.New(log, bus, auditSvc, permSvc, rdb)
	srv := httpserver.New(cfg.Addr, handler.Router())

	log.Infof("starting mathilda on %s", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}

	// Services detach from the bus before it drains and stops.
	syncSvc.Dispose()
	permSvc.Dispose()
	auditSvc.Dispose()
	permCache.Dispose()
	bus.Dispose()

	if db != nil {
		_ = db.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
