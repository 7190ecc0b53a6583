package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_admissions_total",
			Help: "Admission attempts by terminal outcome",
		},
		[]string{"status"}, // no_plate|rejected|no_slot|entered|error
	)

	AdmissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parking_admission_duration_seconds",
			Help:    "Duration of one admission workflow run",
			Buckets: prometheus.DefBuckets,
		},
	)

	AllocationTierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_allocation_tier_total",
			Help: "Slot allocation tier results",
		},
		[]string{"tier", "result"}, // result: ok|fallthrough|fatal
	)

	CurrentPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parking_current_price",
			Help: "Last computed visit price",
		},
	)

	SlotsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parking_slots",
			Help: "Slots in the inventory by status",
		},
		[]string{"status"},
	)

	SweptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_swept_total",
			Help: "Records cleaned up by the maintenance sweeper",
		},
		[]string{"kind"}, // reservation|booking
	)
)

func init() {
	prometheus.MustRegister(AdmissionsTotal)
	prometheus.MustRegister(AdmissionDuration)
	prometheus.MustRegister(AllocationTierTotal)
	prometheus.MustRegister(CurrentPrice)
	prometheus.MustRegister(SlotsByStatus)
	prometheus.MustRegister(SweptTotal)
}

// Router is satisfied by *http.ServeMux and chi.Router.
type Router interface {
	Handle(pattern string, h http.Handler)
}

func Register(r Router) {
	r.Handle("/metrics", promhttp.Handler())
}
