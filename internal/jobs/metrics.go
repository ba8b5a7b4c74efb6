package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_submitted_total",
		Help: "Total number of generation requests sent to the backend",
	}, []string{"kind", "result"})
	JobsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total number of tracked jobs observed completing",
	})
	JobsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of tracked jobs observed failing",
	})
	JobsTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobs_tracked",
		Help: "Number of jobs in the session collection",
	})
	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_polls_total",
		Help: "Total number of scheduled status polls",
	}, []string{"result"})
	PollsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "job_polls_active",
		Help: "Number of jobs with an active poll schedule",
	})
)

func init() {
	prometheus.MustRegister(JobsSubmittedTotal, JobsCompletedTotal, JobsFailedTotal, JobsTracked, PollsTotal, PollsActive)
}
