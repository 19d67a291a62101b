package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres stdlib driver, used for migrations.
	"github.com/redis/go-redis/v9"
	"github.com/rschio/ledger/internal/core/customer"
	"github.com/rschio/ledger/internal/core/customer/store/customercache"
	"github.com/rschio/ledger/internal/core/customer/store/customerdb"
	"github.com/rschio/ledger/internal/core/customer/store/customermem"
	"github.com/rschio/ledger/internal/data/dbschema"
	db "github.com/rschio/ledger/internal/data/dbsql/pgx"
	"github.com/rschio/ledger/internal/data/redisdb"
	"github.com/rschio/ledger/internal/handlers"
	"github.com/rschio/ledger/internal/logger"
	"github.com/rschio/ledger/internal/trace"
)

var build = "develop"

func main() {
	log := logger.New("LEDGER")

	if err := run(log); err != nil {
		log.Error("startup", "ERROR", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx := context.Background()

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Env string `conf:"default:DEV"`
		Web struct {
			Port            int           `conf:"default:8080"`
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
		}
		Store string `conf:"default:postgres,help:postgres or memory"`
		DB    struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,mask"`
			Host       string `conf:"default:database:5432"`
			Name       string `conf:"default:postgres"`
			Schema     string `conf:"default:public"`
			MaxConns   int    `conf:"default:20"`
			DisableTLS bool   `conf:"default:true"`
		}
		Customers struct {
			MinID int `conf:"default:1"`
			MaxID int `conf:"default:5"`
		}
		Redis struct {
			Enabled      bool   `conf:"default:false"`
			Addr         string `conf:"default:redis:6379"`
			Password     string `conf:"mask"`
			DB           int    `conf:"default:0"`
			DirectoryKey string `conf:"default:ledger:customers"`
		}
		Tempo struct {
			Endpoint    string  `conf:"default:tempo:4317"`
			ServiceName string  `conf:"default:ledger"`
			Probability float64 `conf:"default:0.05"`
			Discard     bool    `conf:"default:true"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "customer ledger with bounded overdraft",
		},
	}

	const prefix = "LEDGER"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Info("starting service", "version", build)
	defer log.Info("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Info("startup", "config", out)

	// =========================================================================
	// Redis Support

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		log.Info("startup", "status", "initializing redis support", "addr", cfg.Redis.Addr)

		rdb = redisdb.Open(redisdb.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			log.Info("shutdown", "status", "stopping redis support", "addr", cfg.Redis.Addr)
			rdb.Close()
		}()

		ctxWithTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := redisdb.StatusCheck(ctxWithTimeout, rdb); err != nil {
			return fmt.Errorf("redis not healthy: %w", err)
		}
	}

	// =========================================================================
	// Store Support

	var store customer.Store
	var check handlers.StatusChecker

	switch cfg.Store {
	case "memory":
		log.Info("startup", "status", "initializing in memory store")
		store = customermem.NewStore(log, customermem.Seed())

	case "postgres":
		log.Info("startup", "status", "initializing database support", "host", cfg.DB.Host)

		dbCfg := db.Config{
			User:       cfg.DB.User,
			Password:   cfg.DB.Password,
			Host:       cfg.DB.Host,
			Name:       cfg.DB.Name,
			Schema:     cfg.DB.Schema,
			MaxConns:   cfg.DB.MaxConns,
			DisableTLS: cfg.DB.DisableTLS,
		}
		database, err := db.Open(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("connecting to db: %w", err)
		}
		defer func() {
			log.Info("shutdown", "status", "stopping database support", "host", cfg.DB.Host)
			database.Close()
		}()

		ctxWithTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.StatusCheck(ctxWithTimeout, database); err != nil {
			return fmt.Errorf("database not healthy: %w", err)
		}

		if err := migrate(ctxWithTimeout, log, db.ConnString(dbCfg), rdb); err != nil {
			return err
		}

		store = customerdb.NewStore(log, database)
		check = func(ctx context.Context) error {
			return db.StatusCheck(ctx, database)
		}

	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}

	// =========================================================================
	// Customer Directory

	var dir customer.Directory = customer.IDRange{Min: cfg.Customers.MinID, Max: cfg.Customers.MaxID}
	if rdb != nil {
		dir = customercache.NewDirectory(log, rdb, cfg.Redis.DirectoryKey)
	}
	core := customer.NewCore(log, store, dir)

	if err := core.LoadDirectory(ctx); err != nil {
		return fmt.Errorf("loading customer directory: %w", err)
	}

	// =========================================================================
	// Start Tracing Support

	log.Info("startup", "status", "initializing tracing support", "discard", cfg.Tempo.Discard)

	traceProvider, err := trace.NewProvider(ctx, trace.Config{
		Env:            cfg.Env,
		Endpoint:       cfg.Tempo.Endpoint,
		Service:        cfg.Tempo.ServiceName,
		Version:        build,
		SampleFraction: cfg.Tempo.Probability,
		DiscardTraces:  cfg.Tempo.Discard,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer traceProvider.Shutdown(context.Background())

	tracer := traceProvider.Tracer(cfg.Tempo.ServiceName)

	// =========================================================================
	// Start API Service

	log.Info("startup", "status", "initializing LEDGER API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	srv := handlers.NewServer(log, core, check)
	mux := handlers.APIMux(srv, tracer)

	api := http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info("shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// migrate brings the schema up to date. With Redis available the replicas
// take turns, otherwise two of them starting together may race.
func migrate(ctx context.Context, log *slog.Logger, connString string, rdb *redis.Client) error {
	log.Info("startup", "status", "migrating database")

	stdDB, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("failed to open DB for migration: %w", err)
	}
	defer stdDB.Close()

	fn := func() error {
		if err := dbschema.Migrate(ctx, stdDB); err != nil {
			return fmt.Errorf("migrating error: %w", err)
		}
		return nil
	}

	if rdb == nil {
		return fn()
	}

	return redisdb.WithLock(ctx, rdb, "ledger:migrations", 30*time.Second, fn)
}
