// Command server runs the Antigravity chat-completions gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/yusnake/antigravity2api/internal/api"
	"github.com/yusnake/antigravity2api/internal/auth/antigravity"
	"github.com/yusnake/antigravity2api/internal/config"
	"github.com/yusnake/antigravity2api/internal/credential"
	"github.com/yusnake/antigravity2api/internal/gateway"
	"github.com/yusnake/antigravity2api/internal/imagestore"
	"github.com/yusnake/antigravity2api/internal/logging"
	"github.com/yusnake/antigravity2api/internal/panel"
	"github.com/yusnake/antigravity2api/internal/signature"
	"github.com/yusnake/antigravity2api/internal/translator"
	"github.com/yusnake/antigravity2api/internal/upstream"
	"github.com/yusnake/antigravity2api/internal/usage"
	"github.com/yusnake/antigravity2api/internal/watcher"
)

const shutdownGrace = 5 * time.Second

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Errorf("startup: %v", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Debug)
	if cfg.LogDir != "" {
		if err = logging.ConfigureFileOutput(cfg.LogDir); err != nil {
			log.Errorf("startup: %v", err)
			os.Exit(1)
		}
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	if err = cfg.Validate(); err != nil {
		log.Errorf("startup: %v", err)
		os.Exit(1)
	}

	// Stores. A corrupt credential file is fatal; the log file tolerates
	// absence but not corruption either.
	credStore := credential.NewStore(cfg.CredsFile)
	if err = credStore.Load(); err != nil {
		log.Errorf("startup: %v", err)
		os.Exit(1)
	}
	logStore := usage.NewStore(cfg.LogFile, cfg.LogMaxItems, cfg.LogRetentionDays)
	if err = logStore.Load(); err != nil {
		log.Errorf("startup: %v", err)
		os.Exit(1)
	}

	httpClient := &http.Client{}
	oauth := antigravity.NewService(httpClient)

	pool := credential.NewPool(credStore, oauth, cfg.HourlyLimit)
	pool.SeedUsage(logStore.Snapshot())

	signatures := signature.NewCache()
	adapter := translator.NewAdapter(signatures, translator.Defaults{
		Temperature:     cfg.DefaultTemperature,
		TopP:            cfg.DefaultTopP,
		TopK:            cfg.DefaultTopK,
		MaxOutputTokens: cfg.DefaultMaxOutputTokens,
	})

	images, errImages := imagestore.New(cfg)
	if errImages != nil {
		log.Errorf("startup: %v", errImages)
		os.Exit(1)
	}

	client := upstream.NewClient(httpClient, cfg.UpstreamTimeout)
	orch := gateway.New(pool, adapter, client, logStore, images, cfg.RetryStatusCodes, cfg.RetryMaxAttempts)

	sessions := panel.NewSessions()

	engine := api.NewRouter(api.Deps{
		Cfg:      cfg,
		Orch:     orch,
		Store:    credStore,
		Pool:     pool,
		Logs:     logStore,
		OAuth:    oauth,
		Sessions: sessions,
	})

	stopWatch, errWatch := watcher.Watch(cfg.CredsFile, pool.Initialize)
	if errWatch != nil {
		log.Warnf("startup: credential file watcher unavailable: %v", errWatch)
	} else {
		defer stopWatch()
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		log.Infof("listening on %s (%d credentials loaded)", cfg.Addr(), credStore.Len())
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("server: %v", errServe)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if errShutdown := server.Shutdown(ctx); errShutdown != nil {
		log.Errorf("shutdown: %v", errShutdown)
	}
	httpClient.CloseIdleConnections()
}
