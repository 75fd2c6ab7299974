// Package metrics exports placement counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts ad transitions, payment approvals, jumps and job runs.
type Recorder struct {
	reg *prometheus.Registry

	transitions   *prometheus.CounterVec
	approvals     *prometheus.CounterVec
	approvedTotal *prometheus.CounterVec
	jumps         *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	jobAffected   *prometheus.CounterVec
	jobFailed     *prometheus.CounterVec
}

// New registers the placement collectors, plus the Go and process
// collectors, on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placement",
			Name:      "ad_transitions_total",
			Help:      "Ad status transitions.",
		}, []string{"from", "to"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placement",
			Name:      "payments_approved_total",
			Help:      "Approved payments by snapshot kind.",
		}, []string{"kind"}),
		approvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placement",
			Name:      "payments_approved_amount_total",
			Help:      "Sum of approved payment amounts by snapshot kind.",
		}, []string{"kind"}),
		jumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placement",
			Name:      "jumps_total",
			Help:      "Performed jumps by type.",
		}, []string{"type"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placement",
			Name:      "job_runs_total",
			Help:      "Housekeeping job runs by outcome.",
		}, []string{"job", "outcome"}),
		jobAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placement",
			Name:      "job_affected_rows_total",
			Help:      "Rows changed by housekeeping jobs.",
		}, []string{"job"}),
		jobFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placement",
			Name:      "job_failed_items_total",
			Help:      "Items a housekeeping job could not process.",
		}, []string{"job"}),
	}
	r.reg.MustRegister(
		r.transitions, r.approvals, r.approvedTotal, r.jumps,
		r.jobRuns, r.jobAffected, r.jobFailed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) AdTransition(from, to string) {
	r.transitions.WithLabelValues(from, to).Inc()
}

func (r *Recorder) PaymentApproved(kind string, amount int64) {
	r.approvals.WithLabelValues(kind).Inc()
	r.approvedTotal.WithLabelValues(kind).Add(float64(amount))
}

func (r *Recorder) Jump(kind string) {
	r.jumps.WithLabelValues(kind).Inc()
}

func (r *Recorder) JobRun(job string, affected, failed int64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.jobRuns.WithLabelValues(job, outcome).Inc()
	r.jobAffected.WithLabelValues(job).Add(float64(affected))
	r.jobFailed.WithLabelValues(job).Add(float64(failed))
}
