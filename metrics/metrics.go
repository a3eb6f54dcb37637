package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	VisitorsTrackedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visitors_tracked_total",
			Help: "Total number of visitor events stored",
		},
	)

	TrackRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "track_rejected_total",
			Help: "Total number of rejected track requests by reason",
		},
		[]string{"reason"},
	)

	GeoIPLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoip_lookups_total",
			Help: "Total number of GeoIP resolutions by result",
		},
		[]string{"result"},
	)

	ArchiveEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_events_total",
			Help: "Total number of visitor events handed to the analytics archive by result",
		},
		[]string{"result"},
	)
)

// Track rejection reasons.
const (
	ReasonRateLimited  = "rate_limited"
	ReasonInvalid      = "invalid"
	ReasonNotFound     = "not_found"
	ReasonUnpaid       = "unpaid"
	ReasonMonthlyLimit = "monthly_limit"
	ReasonDBError      = "db_error"
)

// GeoIP lookup results.
const (
	GeoPrivate  = "private"
	GeoCacheHit = "cache_hit"
	GeoSuccess  = "success"
	GeoFailure  = "failure"
)

// Archive results.
const (
	ArchiveWritten = "written"
	ArchiveDropped = "dropped"
	ArchiveFailed  = "failed"
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDuration,
		VisitorsTrackedTotal,
		TrackRejectedTotal,
		GeoIPLookupsTotal,
		ArchiveEventsTotal,
	}
}

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
