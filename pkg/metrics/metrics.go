package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RedcapRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "capsync", Name: "redcap_requests_total", Help: "Number of REDCap API calls by content type."},
		[]string{"content"},
	)
	RedcapErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "capsync", Name: "redcap_errors_total", Help: "Number of failed REDCap API calls by content type."},
		[]string{"content"},
	)
	SyncLogsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "capsync", Name: "sync_logs_processed_total", Help: "Number of REDCap change logs applied to the store by action."},
		[]string{"action"},
	)
	SyncLogsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "capsync", Name: "sync_logs_failed_total", Help: "Number of REDCap change logs that matched no instrument."},
	)
	BackupObjects = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "capsync", Name: "backup_objects_total", Help: "Number of objects written during project backups."},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "capsync", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "capsync", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RedcapRequests)
	reg.MustRegister(RedcapErrors)
	reg.MustRegister(SyncLogsProcessed)
	reg.MustRegister(SyncLogsFailed)
	reg.MustRegister(BackupObjects)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
