package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/tokenledger/pkg/tokens"
)

const namespace = "tokenledger"

type metrics struct {
	requests  *prometheus.CounterVec
	transfers *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, l *tokens.Ledger) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by path and status code.",
		}, []string{"path", "code"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.requests,
		m.transfers,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfer_log_length",
			Help:      "Number of committed transfers.",
		}, func() float64 { return float64(l.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holders",
			Help:      "Accounts with a non-zero balance.",
		}, func() float64 { return float64(len(l.Holders())) }),
	)
	return m
}
