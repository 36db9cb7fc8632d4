package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/itskum47/fleetops/control_plane/config"
	"github.com/itskum47/fleetops/control_plane/coordination"
	"github.com/itskum47/fleetops/control_plane/idempotency"
	"github.com/itskum47/fleetops/control_plane/middleware"
	"github.com/itskum47/fleetops/control_plane/protocol"
	"github.com/itskum47/fleetops/control_plane/store"
	"github.com/itskum47/fleetops/control_plane/streaming"
	"github.com/itskum47/fleetops/control_plane/tasking"
	"github.com/itskum47/fleetops/control_plane/trust"
)

// serve wires the control plane from cfg and blocks until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		st          store.Store
		redisClient *redis.Client
	)
	switch cfg.Store {
	case config.BackendPostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		st = pg
		log.Println("[INIT] Using Postgres store")
	case config.BackendRedis:
		rs, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rs.Close()
		st = rs
		redisClient = rs.Client()
		log.Printf("[INIT] Using Redis store at %s", cfg.RedisAddr)
	default:
		st = store.NewMemoryStore()
		log.Println("[INIT] Using in-memory store")
	}

	if redisClient == nil && cfg.UsesRedis() {
		rs, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rs.Close()
		redisClient = rs.Client()
	}

	var registry trust.Registry
	if cfg.TrustRegistry == config.BackendRedis {
		registry = trust.NewRedisRegistry(redisClient)
		log.Println("[INIT] Trust lists backed by Redis")
	} else {
		registry = trust.NewMemoryRegistry(nil, nil)
	}

	if cfg.TrustFile != "" {
		seed, err := trust.LoadSeedFile(cfg.TrustFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, registry); err != nil {
			return err
		}
		log.Printf("[INIT] Seeded %d sources from %s", len(seed.Sources), cfg.TrustFile)
		go func() {
			if err := trust.WatchSeedFile(ctx, cfg.TrustFile, registry); err != nil {
				log.Printf("[TRUST] Seed watcher stopped: %v", err)
			}
		}()
	}

	broker := streaming.NewBroker()
	defer broker.Close()

	// Entities with an endpoint get HTTP delivery; the rest, and all MQTT
	// traffic, go to the outbound event topic.
	logAdapter := protocol.NewLogAdapter(broker)
	httpAdapter := protocol.NewHTTPAdapter(cfg.DispatchTimeout, protocol.NewTokenBucketLimiter(cfg.DispatchRate, cfg.DispatchBurst)).
		WithCircuitBreaker(protocol.NewCircuitBreaker(5, 30*time.Second))
	mux := protocol.NewMux(protocol.ByEndpoint(httpAdapter, logAdapter))
	mux.Handle(protocol.MQTT, logAdapter)

	evaluator := trust.NewEvaluator(registry, st, trust.WithPublisher(broker))
	coordinator := tasking.NewCoordinator(st, mux,
		tasking.WithPublisher(broker),
		tasking.WithSystemID(cfg.SystemID),
		tasking.WithSyncConcurrency(cfg.SyncConcurrency),
	)
	if cfg.SyncInterval > 0 {
		// Only the lease holder re-syncs, so replicas sharing Redis do not
		// dispatch the same mission twice.
		var lease coordination.Lease = coordination.NewMemoryLease()
		if redisClient != nil {
			lease = coordination.NewRedisLease(redisClient)
		}
		elector := coordination.NewLeaderElector(lease, coordination.SyncLeaseKey, cfg.SystemID+"-"+uuid.NewString()[:8], 15*time.Second)
		elector.SetCallbacks(func(leaderCtx context.Context) {
			coordinator.RunSyncLoop(leaderCtx, cfg.SyncInterval)
		}, nil)
		go elector.Run(ctx)
	}

	var auth *middleware.Authenticator
	if cfg.JWTSecret == "" {
		log.Println("[WARN] jwt_secret not set, API authentication disabled")
	} else {
		a, err := middleware.NewAuthenticator(cfg.JWTSecret)
		if err != nil {
			return err
		}
		auth = a
	}

	hub, err := NewEventHub(broker)
	if err != nil {
		return err
	}
	go hub.Run(ctx)

	api := NewAPI(st, evaluator, coordinator, hub, auth, idempotency.NewStore(redisClient))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INIT] Control plane listening on %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("[SHUTDOWN] Draining HTTP server")
	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}
