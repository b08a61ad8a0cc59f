package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facesort",
		Name:      "scans_started_total",
		Help:      "Total number of scan jobs started",
	})

	ScansCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facesort",
		Name:      "scans_completed_total",
		Help:      "Total number of scan jobs that reached a terminal state",
	}, []string{"status"})

	ItemsScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facesort",
		Name:      "media_items_scanned_total",
		Help:      "Total number of media items processed",
	}, []string{"outcome"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facesort",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	})

	PersonsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facesort",
		Name:      "persons_created_total",
		Help:      "Total number of person clusters created",
	})

	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facesort",
		Name:      "provider_request_duration_seconds",
		Help:      "Duration of photo-library provider calls",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	CredentialRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facesort",
		Name:      "credential_renewals_total",
		Help:      "Total number of credential renewal attempts",
	}, []string{"outcome"})

	DetectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facesort",
		Name:      "detection_duration_seconds",
		Help:      "Duration of face detection stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	ScanQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facesort",
		Name:      "scan_queue_depth",
		Help:      "Number of pending scan tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facesort",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facesort",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
