package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"shalomjobs.org/internal/auth"
	"shalomjobs.org/internal/config"
	"shalomjobs.org/internal/httpapi"
	"shalomjobs.org/internal/kv"
	"shalomjobs.org/internal/messaging"
	"shalomjobs.org/internal/migrate"
	"shalomjobs.org/internal/obs"
	"shalomjobs.org/internal/rpc"
	"shalomjobs.org/internal/seclog"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	startCtx, cancelStart := context.WithTimeout(ctx, 30*time.Second)
	defer cancelStart()

	store, err := kv.Open(startCtx, kv.Options{
		Driver: cfg.StoreDriver,
		DSN:    cfg.StoreDSN,
		Prefix: cfg.StorePrefix,
		Redis: kv.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	})
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	if sqlStore, ok := kv.AsSQL(store); ok && cfg.StoreAutoMigrate {
		mgr, err := migrate.NewManager(sqlStore.DB(), sqlStore.Dialect().Name)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		if err := mgr.Up(startCtx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
	}

	logOpts := []seclog.Option{seclog.WithRetention(cfg.SecurityLogMax, cfg.SecurityLogKeep)}
	if cfg.ArchiveEnabled() {
		archiver, err := seclog.NewS3Archiver(startCtx, seclog.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3User,
			SecretKey: cfg.S3Password,
		})
		if err != nil {
			log.Fatalf("security log archive: %v", err)
		}
		logOpts = append(logOpts, seclog.WithArchiver(archiver))
	}
	var sink *seclog.AMQPSink
	if cfg.AMQPURL != "" {
		sink, err = seclog.NewAMQPSink(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			// broker outages must not keep sign-in down
			obs.Warn("amqp sink disabled", map[string]any{"error": err})
		} else {
			logOpts = append(logOpts, seclog.WithSink(sink))
		}
	}
	secLog := seclog.New(store, logOpts...)

	accounts := auth.NewAccounts(store, auth.AccountsConfig{
		AdminEmail:          cfg.AdminEmail,
		AdminPassword:       cfg.AdminPassword,
		StoreAdminPlaintext: cfg.AdminPlaintext,
		DemoEmail:           cfg.DemoUserEmail,
		DemoPassword:        cfg.DemoUserPassword,
	})
	if err := accounts.EnsureAdminAccount(startCtx); err != nil {
		log.Fatalf("bootstrap accounts: %v", err)
	}

	msgs := messaging.New(store)
	svc := auth.NewService(store, accounts,
		auth.NewTracker(store, secLog, cfg.MaxLoginAttempts, cfg.LockDuration),
		auth.NewCodec(store, cfg.AuthSecret, cfg.TokenTTL),
		secLog,
		auth.WithWelcomer(msgs),
		auth.WithMinPasswordLength(cfg.MinPasswordLength),
	)

	probe := httpapi.ReadyProbe{Store: store}

	// HTTP API
	api := httpapi.New(probe, version, svc, msgs, secLog,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSecond),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// gRPC API
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(rpc.ClientInterceptor))
	rpcSrv := rpc.NewServer(svc, probe, version)
	rpcSrv.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	readyCtx, stopReady := context.WithCancel(ctx)
	go rpcSrv.WatchReadiness(readyCtx, 15*time.Second)

	obs.Info("starting shalom-api", map[string]any{
		"version": version,
		"http":    srv.Addr,
		"grpc":    cfg.GRPCAddr,
		"store":   cfg.StoreDriver,
		"env":     cfg.Env,
	})

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Info("shutting down", nil)

	stopReady()
	rpcSrv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	if sink != nil {
		_ = sink.Close()
	}
	_ = store.Close()
	obs.Info("stopped", nil)
}
