package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_orders_total",
			Help: "Orders submitted to the exchange",
		},
		[]string{"symbol", "side"},
	)

	MirrorOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_mirror_orders_total",
			Help: "Mirror orders created after fills",
		},
		[]string{"symbol"},
	)

	RepairedOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_repaired_orders_total",
			Help: "Missing ladder slots re-created by repair cycles",
		},
		[]string{"symbol"},
	)

	LadderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_ladder_errors_total",
			Help: "Cycles skipped due to unreconcilable ladder state",
		},
		[]string{"symbol"},
	)

	LedgerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_ledger_rejections_total",
			Help: "Order downgrades caused by shared funds exhaustion",
		},
		[]string{"account", "coin"},
	)

	LedgerRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_ledger_remaining",
			Help: "Remaining allocatable amount per account and coin",
		},
		[]string{"account", "coin"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersPlaced,
		MirrorOrders,
		RepairedOrders,
		LadderErrors,
		LedgerRejections,
		LedgerRemaining,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
