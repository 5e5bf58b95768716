package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moyoez/docdrop/api"
	"github.com/moyoez/docdrop/api/models"
	"github.com/moyoez/docdrop/api/notifyhub"
	"github.com/moyoez/docdrop/extract"
	"github.com/moyoez/docdrop/metrics"
	"github.com/moyoez/docdrop/notify"
	"github.com/moyoez/docdrop/query"
	"github.com/moyoez/docdrop/storage"
	"github.com/moyoez/docdrop/tool"
)

func main() {
	cfg := tool.SetFlags()

	// initialize logger
	tool.InitLogger()
	tool.SetLogMode(cfg.Log)

	appCfg, err := tool.LoadConfig(cfg.UseConfigPath)
	if err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}
	tool.ApplyFlagOverrides(&appCfg, cfg)
	tool.CurrentConfig = appCfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(appCfg.Database.Driver, appCfg.Database.DSN)
	if err != nil {
		tool.DefaultLogger.Fatalf("Database open failed: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		tool.DefaultLogger.Fatalf("Database migration failed: %v", err)
	}
	files := storage.NewStore(db)

	blobs, err := storage.NewBlobStore(appCfg.Blob)
	if err != nil {
		tool.DefaultLogger.Fatalf("Blob store setup failed: %v", err)
	}
	sessions, closeSessions, err := models.NewSessionStore(appCfg)
	if err != nil {
		tool.DefaultLogger.Fatalf("Session store setup failed: %v", err)
	}
	defer closeSessions()
	chunks, err := models.NewChunkStore(appCfg.SpoolDir)
	if err != nil {
		tool.DefaultLogger.Fatalf("Chunk spool setup failed: %v", err)
	}

	m := metrics.New()
	hub := notifyhub.New()
	notifier := notify.Fanout{hub}
	if appCfg.Notify.SocketPath != "" {
		sock := notify.NewSocketNotifier(appCfg.Notify.SocketPath)
		go sock.Run(ctx)
		notifier = append(notifier, sock)
		tool.DefaultLogger.Infof("Forwarding file events to unix socket %s", appCfg.Notify.SocketPath)
	}

	pipeline := &extract.Pipeline{
		Files:           files,
		Blobs:           blobs,
		Extractor:       extract.New(),
		Notifier:        notifier,
		Metrics:         m,
		MaxExtractBytes: appCfg.MaxExtractBytes,
	}
	uploads := models.NewUploadManager(sessions, chunks, pipeline, appCfg.Sessions)
	uploads.Notifier = notifier
	uploads.Metrics = m
	engine := query.NewEngine(files, appCfg.Query)
	engine.Metrics = m

	go uploads.RunSweeper(ctx, appCfg.Sessions.SweepInterval)

	apiServer := api.NewServer(appCfg.Port, api.Deps{
		Uploads:   uploads,
		Ingester:  pipeline,
		Files:     files,
		Engine:    engine,
		Hub:       hub,
		Metrics:   m,
		RateLimit: appCfg.RateLimit,
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()
	tool.DefaultLogger.Infof("Session store: %s, blob store: %s, database: %s", appCfg.Sessions.Store, appCfg.Blob.Driver, appCfg.Database.DSN)

	select {
	case err := <-errCh:
		if err != nil {
			tool.DefaultLogger.Fatalf("API server startup failed: %v", err)
		}
	case <-ctx.Done():
		tool.DefaultLogger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		tool.DefaultLogger.Errorf("API server shutdown: %v", err)
	}
}
