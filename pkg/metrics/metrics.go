package metrics

import (
	"net/http"

	"github.com/mchmarny/photoguard/pkg/sensitivity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultSensitive = "sensitive"
	resultClean     = "clean"
)

var registry = prometheus.NewRegistry()

var (
	scoreBuckets = []float64{0.05, 0.1, 0.2, 0.3, 0.35, 0.4, 0.5, 0.6, 0.8, 1}

	Classifications = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoguard_classifications_total",
			Help: "Total number of classified images",
		},
		[]string{"source", "result"},
	)

	ClassificationScore = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photoguard_classification_score",
			Help:    "Skin ratio of classified images",
			Buckets: scoreBuckets,
		},
		[]string{"source"},
	)

	Uploads = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoguard_uploads_total",
			Help: "Total number of stored photos by kind and moderation status",
		},
		[]string{"kind", "status"},
	)

	UploadErrors = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoguard_upload_errors_total",
			Help: "Total number of failed uploads by stage",
		},
		[]string{"stage"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordClassification counts a classification result from source (file, url, base64, upload).
func RecordClassification(source string, r sensitivity.Result) {
	result := resultClean
	if r.Sensitive {
		result = resultSensitive
	}
	Classifications.WithLabelValues(source, result).Inc()
	ClassificationScore.WithLabelValues(source).Observe(r.Score)
}

func RecordUpload(kind, status string) {
	Uploads.WithLabelValues(kind, status).Inc()
}

func RecordUploadError(stage string) {
	UploadErrors.WithLabelValues(stage).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
