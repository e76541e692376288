// Package metrics exposes ledger activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loanledger"

// Metrics groups the collectors updated by the ledger.
type Metrics struct {
	registry *prometheus.Registry

	LoansCreated           *prometheus.CounterVec
	RepaymentsApplied      *prometheus.CounterVec
	AmountReceived         *prometheus.CounterVec
	InstallmentTransitions *prometheus.CounterVec
	InstallmentsPastDue    prometheus.Gauge
}

// New registers the ledger collectors, plus Go and process collectors, on a
// private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		LoansCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_created_total",
			Help:      "Loans created, by currency.",
		}, []string{"currency"}),
		RepaymentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repayments_applied_total",
			Help:      "Repayment receipts written, by currency.",
		}, []string{"currency"}),
		AmountReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amount_received_minor_units_total",
			Help:      "Sum of receipt amounts in minor currency units.",
		}, []string{"currency"}),
		InstallmentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installment_transitions_total",
			Help:      "Installment state changes, by new status.",
		}, []string{"status"}),
		InstallmentsPastDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "installments_past_due",
			Help:      "Due installments whose due date has passed, as of the last report.",
		}),
	}
	reg.MustRegister(
		m.LoansCreated,
		m.RepaymentsApplied,
		m.AmountReceived,
		m.InstallmentTransitions,
		m.InstallmentsPastDue,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
