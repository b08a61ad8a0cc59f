package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/detect"
	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/observability"
	"github.com/manankhh/facesort/internal/photos"
	"github.com/manankhh/facesort/internal/queue"
	"github.com/manankhh/facesort/internal/scan"
	"github.com/manankhh/facesort/internal/storage"
)

// library adapts the photos client to the orchestrator's interface; a
// concrete *photos.MediaSeq cannot directly satisfy an interface-typed
// return.
type library struct {
	client *photos.Client
}

func (l *library) ResolveAlbum(ctx context.Context, identity, rawRef string) (*models.AlbumRef, error) {
	return l.client.ResolveAlbum(ctx, identity, rawRef)
}

func (l *library) StreamAlbumMedia(identity, albumID string) scan.MediaIterator {
	return l.client.ListAlbumMedia(identity, albumID)
}

func (l *library) RefreshMediaURL(ctx context.Context, identity, mediaItemID string) (string, error) {
	return l.client.RefreshMediaURL(ctx, identity, mediaItemID)
}

func (l *library) DownloadMedia(ctx context.Context, baseURL string) ([]byte, error) {
	return l.client.DownloadMedia(ctx, baseURL)
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facesort scan worker",
		"item_workers", cfg.Scan.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	if err := detect.InitRuntime(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer detect.DestroyRuntime()

	detector, err := detect.NewONNXDetector(cfg.Detection)
	if err != nil {
		slog.Error("load detection models", "error", err)
		os.Exit(1)
	}
	defer detector.Close()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Provider client with per-identity session renewal
	sessions := photos.NewSessions(db, cfg.Provider)
	client := photos.NewClient(sessions, cfg.Provider)

	orchestrator := scan.NewOrchestrator(
		db,
		&library{client: client},
		detector,
		minioStore,
		producer,
		cfg.Scan,
		cfg.Clustering,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fail scans a dead worker left behind before taking on new ones
	orchestrator.SweepStale(ctx)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeScanTasks(ctx, "scan-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.ScanTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal scan task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		// Keep the in-flight message alive while the scan runs
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					_ = msg.InProgress()
				}
			}
		}()
		defer close(done)

		if err := orchestrator.Run(ctx, &task); err != nil {
			return fmt.Errorf("run scan %s: %w", task.ScanID, err)
		}
		return nil
	})
	if err != nil {
		slog.Error("start scan task consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.ScanQueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down scan worker...")
	cancel()
	time.Sleep(time.Second)
	slog.Info("scan worker stopped")
}
