package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/keywarden/internal/cache"
	memcache "github.com/dropDatabas3/keywarden/internal/cache/memory"
	redcache "github.com/dropDatabas3/keywarden/internal/cache/redis"
	"github.com/dropDatabas3/keywarden/internal/config"
	"github.com/dropDatabas3/keywarden/internal/crypto"
	"github.com/dropDatabas3/keywarden/internal/domain/repository"
	httpx "github.com/dropDatabas3/keywarden/internal/http"
	adminctrl "github.com/dropDatabas3/keywarden/internal/http/controllers/admin"
	authctrl "github.com/dropDatabas3/keywarden/internal/http/controllers/auth"
	healthctrl "github.com/dropDatabas3/keywarden/internal/http/controllers/health"
	jwksctrl "github.com/dropDatabas3/keywarden/internal/http/controllers/jwks"
	"github.com/dropDatabas3/keywarden/internal/keys"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
	"github.com/dropDatabas3/keywarden/internal/passkeys"
	"github.com/dropDatabas3/keywarden/internal/security/keeper"
	"github.com/dropDatabas3/keywarden/internal/store"
	memstore "github.com/dropDatabas3/keywarden/internal/store/memory"
	pgstore "github.com/dropDatabas3/keywarden/internal/store/pg"
	"github.com/dropDatabas3/keywarden/internal/tokens"
)

// backend es lo que ambos drivers de storage satisfacen.
type backend interface {
	repository.RegistrationRepository
	repository.KeyRepository
	Ping(ctx context.Context) error
}

func main() {
	var (
		flagEnvFile = flag.String("env-file", ".env", "ruta a .env (opcional)")
		flagConfig  = flag.String("config", "configs/config.yaml", "ruta a config.yaml")
	)
	flag.Parse()

	if *flagEnvFile != "" {
		_ = godotenv.Load(*flagEnvFile)
	}

	// Config inválida = el proceso no sirve tráfico.
	var cfg *config.Config
	var err error
	if _, statErr := os.Stat(*flagConfig); statErr == nil {
		cfg, err = config.Load(*flagConfig)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "keywarden",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Keepers por contexto: un sellado de registros no abre claves de firma.
	keysKeeper, err := keeper.New(cfg.Keys.MasterKey, "signing-keys")
	if err != nil {
		log.Fatal("keeper", logger.Err(err))
	}
	recordsKeeper, err := keeper.New(cfg.Keys.MasterKey, "registrations")
	if err != nil {
		log.Fatal("keeper", logger.Err(err))
	}
	engine := crypto.NewEngine()

	db, closeDB, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal("storage", logger.Err(err))
	}
	defer closeDB()

	records := store.NewRecords(db, engine, recordsKeeper)
	keysSvc := keys.NewService(db, engine, keysKeeper, keys.Options{
		RotationInterval: cfg.RotationInterval(),
		GracePeriod:      cfg.GracePeriod(),
		RetentionPeriod:  cfg.RetentionPeriod(),
		KeySizeBits:      cfg.Keys.KeySizeBits,
		KIDPrefix:        cfg.Keys.KIDPrefix,
	})
	issuer := tokens.NewIssuer(cfg.JWT.Issuer, keysSvc, cfg.AccessTTL())

	pkSvc, err := passkeys.NewService(passkeys.Config{
		RPID:          cfg.WebAuthn.RPID,
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
		CeremonyTTL:   cfg.CeremonyTTL(),
	}, records, openCache(cfg))
	if err != nil {
		log.Fatal("webauthn", logger.Err(err))
	}

	handler := httpx.NewRouter(httpx.RouterDeps{
		JWKS:        jwksctrl.NewController(keysSvc),
		Health:      healthctrl.NewController(db, keysSvc),
		Passkeys:    authctrl.NewPasskeysController(pkSvc, issuer),
		Admin:       adminctrl.NewKeysController(keysSvc),
		AdminAPIKey: cfg.Server.AdminAPIKey,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", logger.Path(cfg.Server.Addr))
		return httpx.Serve(gctx, cfg.Server.Addr, handler)
	})

	if cfg.Keys.RotationEnabled {
		rotator := keys.NewRotator(keysSvc, cfg.TickInterval())
		g.Go(func() error {
			err := rotator.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		log.Warn("key rotation disabled; signing keys will not advance")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("exit", logger.Err(err))
	}
	log.Info("shutdown complete")
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		lifetime, _ := time.ParseDuration(cfg.Storage.Postgres.ConnMaxLifetime)
		st, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             cfg.Storage.DSN,
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			ConnMaxLifetime: lifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
		return st, st.Close, nil
	case "memory":
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("storage driver %q no soportado", cfg.Storage.Driver)
	}
}

func openCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.Kind == "redis" {
		return redcache.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
	}
	ttl, _ := time.ParseDuration(cfg.Cache.Memory.DefaultTTL)
	return memcache.New(ttl)
}
