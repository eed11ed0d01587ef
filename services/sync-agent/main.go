package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AppleJax2/OncoTracker-sub000/pkg/apihelpers"
	httpclient "github.com/AppleJax2/OncoTracker-sub000/pkg/http-client"
	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/sync/connectivity"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/sync/queue"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/sync/syncer"
	"github.com/AppleJax2/OncoTracker-sub000/services/sync-agent/apihandlers"
)

var conf SyncAgentConfig

func main() {
	ingestionAPIClient, err := httpclient.NewIngestionAPIClient(loadIngestionAPIClientConfig())
	if err != nil {
		slog.Error("Error creating ingestion API client", slog.String("error", err.Error()))
		return
	}

	queueStore, err := queue.Open(queue.Config{
		Path:       conf.QueueConfig.Path,
		SyncWrites: conf.QueueConfig.SyncWrites,
		MaxEntries: conf.QueueConfig.MaxEntries,
		Logger:     slog.Default(),
	})
	if err != nil {
		slog.Error("Error opening local submission queue", slog.String("error", err.Error()))
		return
	}
	defer func() {
		if err := queueStore.Close(); err != nil {
			slog.Error("Error closing local submission queue", slog.String("error", err.Error()))
		}
	}()

	monitor := connectivity.NewMonitor(connectivity.Config{
		Prober:               ingestionAPIClient,
		ProbeInterval:        parseDurationWithDefault(conf.ConnectivityConfig.ProbeInterval, connectivity.DEFAULT_PROBE_INTERVAL),
		ProbeTimeout:         parseDurationWithDefault(conf.ConnectivityConfig.ProbeTimeout, connectivity.DEFAULT_PROBE_TIMEOUT),
		PoorLatencyThreshold: parseDurationWithDefault(conf.ConnectivityConfig.PoorLatencyThreshold, connectivity.DEFAULT_POOR_LATENCY_THRESHOLD),
	})

	syncService := syncer.NewSyncer(queueStore, ingestionAPIClient, monitor, syncer.Config{
		MaxBatchSize:   conf.SyncConfig.MaxBatchSize,
		SyncInterval:   parseDurationWithDefault(conf.SyncConfig.SyncInterval, syncer.DEFAULT_SYNC_INTERVAL),
		InitialBackoff: parseDurationWithDefault(conf.SyncConfig.InitialBackoff, syncer.DEFAULT_INITIAL_BACKOFF),
		MaxBackoff:     parseDurationWithDefault(conf.SyncConfig.MaxBackoff, syncer.DEFAULT_MAX_BACKOFF),
		OnPermanentFailure: func(rejected []studyTypes.RejectedSubmission) {
			for _, item := range rejected {
				slog.Warn("submission rejected permanently",
					slog.String("clientSubmissionID", item.ClientSubmissionID),
					slog.String("reason", item.Reason),
					slog.String("detail", item.Detail))
			}
		},
		OnAuthFailure: func(accessToken string, err error) {
			slog.Warn("study access token rejected, queued submissions preserved", slog.String("error", err.Error()))
		},
	})

	// reconnecting triggers an immediate drain
	monitor.OnOnline(syncService.TriggerDrain)
	monitor.Start()
	defer monitor.Stop()
	syncService.Start()
	defer syncService.Stop()

	// initial reachability check; a reachable link fires the subscriber,
	// which drains whatever survived the last run
	monitor.ProbeQuality(context.Background())

	// Start local capture API
	router := gin.Default()
	router.GET("/", apihandlers.HealthCheckHandle)
	v1Root := router.Group("/v1")

	v1APIHandlers := apihandlers.NewHTTPHandler(
		syncService,
		ingestionAPIClient,
		conf.DefaultAccessToken,
	)
	v1APIHandlers.AddSyncAgentAPI(v1Root)

	if conf.GinConfig.DebugMode {
		apihelpers.WriteRoutesToFile(router, "sync-agent-routes.txt")
	}

	server := &http.Server{
		Addr:    "localhost:" + conf.GinConfig.Port,
		Handler: router,
	}

	go func() {
		slog.Info("Starting Sync Agent on port " + conf.GinConfig.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Exited Sync Agent", slog.String("error", err.Error()))
		}
	}()

	// shut down cleanly so the queue store is released
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down Sync Agent")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Error during server shutdown", slog.String("error", err.Error()))
	}
}
