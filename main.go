package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/roboleague/collab/api"
	"github.com/roboleague/collab/auth"
	"github.com/roboleague/collab/broadcast"
	"github.com/roboleague/collab/config"
	"github.com/roboleague/collab/export"
	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/logger"
	"github.com/roboleague/collab/metrics"
	"github.com/roboleague/collab/session"
	"github.com/roboleague/collab/snapshot"
	"github.com/roboleague/collab/startup"
	"github.com/roboleague/collab/template"
	"github.com/roboleague/collab/watch"
	"github.com/roboleague/collab/ws"
)

var version = "dev"

func newHandler(verifier auth.Verifier, wsHandler http.Handler, workspaces *api.WorkspaceHandler, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("GET /metrics", metrics.Handler())

	// The websocket authenticates with its first message.
	mux.Handle("GET /ws", wsHandler)

	apiMux := http.NewServeMux()
	workspaces.Register(apiMux)
	mux.Handle("/api/", auth.Middleware(verifier)(apiMux))

	var handler http.Handler = metrics.Middleware(mux)
	if len(corsOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
			AllowCredentials: true,
		}).Handler(handler)
	}
	return handler
}

// newVerifier chains every configured identity source.
func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	var chain auth.Chain
	if cfg.AuthToken != "" {
		chain = append(chain, auth.NewTokenVerifier(cfg.AuthToken))
	}
	if cfg.JWTSecret != "" {
		v, err := auth.NewHMACVerifier(cfg.JWTSecret, slog.Default())
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if cfg.JWKSURL != "" {
		v, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, slog.Default())
		if err != nil {
			chain.Close()
			return nil, err
		}
		chain = append(chain, v)
	}
	return chain, nil
}

func newSnapshotStore(ctx context.Context, cfg *config.Config) (snapshot.Store, error) {
	switch cfg.SnapshotBackend {
	case config.BackendDisk:
		return snapshot.NewFileStore(cfg.DataDir)
	case config.BackendPostgres:
		return snapshot.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.TablePrefix, slog.Default())
	default:
		return nil, nil
	}
}

// originHosts turns CORS origins into websocket origin host patterns.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		} else {
			hosts = append(hosts, o)
		}
	}
	return hosts
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Printf("collab %s\n", version)
		os.Exit(0)
	}

	logCloser, err := logger.Init(logger.Config{
		DataDir: cfg.DataDir,
		DevMode: cfg.DevMode,
		LogFile: cfg.LogFile,
	})
	if err != nil {
		slog.Error("failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx := context.Background()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize authentication", "error", err)
		os.Exit(1)
	}
	defer verifier.Close()

	snapshots, err := newSnapshotStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize snapshot store", "backend", cfg.SnapshotBackend, "error", err)
		os.Exit(1)
	}

	var starter template.Provider = template.Empty{}
	var templateDir *template.Dir
	if cfg.TemplateDir != "" {
		templateDir = template.NewDir(cfg.TemplateDir)
		if err := templateDir.Start(); err != nil {
			slog.Error("failed to load template directory", "dir", cfg.TemplateDir, "error", err)
			os.Exit(1)
		}
		starter = templateDir
	}

	var uploader api.Uploader
	exports := ""
	if cfg.S3.Enabled() {
		sink, err := export.NewS3Sink(ctx, export.S3Config{
			Bucket:     cfg.S3.Bucket,
			Region:     cfg.S3.Region,
			Endpoint:   cfg.S3.Endpoint,
			AccessKey:  cfg.S3.AccessKey,
			SecretKey:  cfg.S3.SecretKey,
			Prefix:     cfg.S3.Prefix,
			PresignTTL: cfg.S3.PresignTTL,
		})
		if err != nil {
			slog.Error("failed to initialize S3 export", "error", err)
			os.Exit(1)
		}
		uploader = sink
		exports = "s3://" + cfg.S3.Bucket + "/" + cfg.S3.Prefix
	}

	store := files.NewMemoryStore()
	registry := session.NewRegistry()
	manager := broadcast.NewManager(store, registry, broadcast.Options{
		Snapshots:   snapshots,
		Template:    starter,
		IdleTimeout: cfg.SessionIdleTimeout,
	})

	workspaceList := watch.NewWorkspaceListWatcher(registry)
	if err := workspaceList.Start(); err != nil {
		slog.Error("failed to start workspace list watcher", "error", err)
		os.Exit(1)
	}

	wsHandler := ws.NewRPCHandler(verifier, version, cfg.DevMode, manager, workspaceList)
	wsHandler.SetOriginPatterns(originHosts(cfg.CORSOrigins))
	workspaces := api.NewWorkspaceHandler(registry, manager, uploader)

	port := strconv.Itoa(cfg.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newHandler(verifier, wsHandler, workspaces, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		workspaceList.Stop()
		manager.Shutdown()
		if templateDir != nil {
			templateDir.Stop()
		}
		if snapshots != nil {
			if err := snapshots.Close(); err != nil {
				slog.Error("failed to close snapshot store", "error", err)
			}
		}
		close(shutdownDone)
	}()

	startup.PrintBanner(os.Stdout, startup.BannerOptions{
		Version:   version,
		LocalURL:  "http://localhost:" + port,
		Snapshots: cfg.SnapshotBackend,
		Exports:   exports,
		DevMode:   cfg.DevMode,
	})
	startup.PrintFooter(os.Stdout)

	slog.Info("server starting", "port", port, "dataDir", cfg.DataDir, "devMode", cfg.DevMode,
		"snapshots", cfg.SnapshotBackend, "idleTimeout", cfg.SessionIdleTimeout)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	slog.Info("server stopped")
}
