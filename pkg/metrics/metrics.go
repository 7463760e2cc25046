package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "aurum_messages_total", Help: "Messages relayed"},
		[]string{"channel"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "aurum_signals_total", Help: "Signals parsed"},
		[]string{"instrument", "direction"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "aurum_orders_total", Help: "Orders dispatched by status"},
		[]string{"status"},
	)
	SkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "aurum_signals_skipped_total", Help: "Signals relayed without dispatch"},
		[]string{"reason"},
	)
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "aurum_subscribers", Help: "Connected websocket subscribers"},
	)
)

func init() {
	prometheus.MustRegister(MessagesTotal, SignalsTotal, OrdersTotal, SkippedTotal, Subscribers)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
