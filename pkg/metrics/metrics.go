package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Offer metrics
	OffersReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "netweave_offers_received_total",
			Help: "Total number of resource offers received",
		},
	)

	OffersDeclined = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "netweave_offers_declined_total",
			Help: "Total number of resource offers declined",
		},
	)

	// Task metrics
	TasksLaunched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netweave_tasks_launched_total",
			Help: "Total number of tasks launched by task type",
		},
		[]string{"type"},
	)

	StatusUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netweave_status_updates_total",
			Help: "Total number of task status updates by state",
		},
		[]string{"state"},
	)

	UnknownTaskUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "netweave_unknown_task_updates_total",
			Help: "Status updates naming a task type outside the known set",
		},
	)

	// Cluster metrics
	AgentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netweave_agents_total",
			Help: "Number of agents the scheduler is tracking",
		},
	)

	AgentsRestarting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netweave_agents_restarting",
			Help: "Number of agents with a restart sequence in flight",
		},
	)

	// Election metrics
	IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netweave_is_leader",
			Help: "Whether this scheduler instance holds leadership (1 = leader)",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(OffersReceived)
	prometheus.MustRegister(OffersDeclined)
	prometheus.MustRegister(TasksLaunched)
	prometheus.MustRegister(StatusUpdates)
	prometheus.MustRegister(UnknownTaskUpdates)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(AgentsRestarting)
	prometheus.MustRegister(IsLeader)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
