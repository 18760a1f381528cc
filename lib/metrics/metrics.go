// Package metrics provides the Prometheus metrics of the wallet and watcher services. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aptosweb3"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// node client
	NodeRequests *prometheus.CounterVec
	NodeLatency  *prometheus.HistogramVec

	// wallet service
	APIRequests *prometheus.CounterVec
	TxSubmitted *prometheus.CounterVec

	// bridge
	BridgeUpdates *prometheus.CounterVec

	// watcher
	WatchedAccounts *prometheus.GaugeVec
	HeldTokens      *prometheus.GaugeVec
	HoldingsChanges *prometheus.CounterVec
}

// New registers the metrics with reg. Use prometheus.DefaultRegisterer to have them served by promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		NodeRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_requests_total",
			Help:      "Requests sent to the Aptos node by method and reply status.",
		}, []string{"method", "status"}),
		NodeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_request_seconds",
			Help:      "Latency of requests sent to the Aptos node.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Requests served by the wallet REST API by route and status code.",
		}, []string{"route", "code"}),
		TxSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Token transactions submitted by kind and result.",
		}, []string{"kind", "result"}),
		BridgeUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_updates_total",
			Help:      "State updates applied by the wallet bridge by source.",
		}, []string{"source"}),
		WatchedAccounts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_accounts",
			Help:      "Accounts watched for token holdings per network.",
		}, []string{"net"}),
		HeldTokens: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "held_tokens",
			Help:      "Tokens held by watched accounts per network.",
		}, []string{"net"}),
		HoldingsChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holdings_changes_total",
			Help:      "Holdings changes published per network.",
		}, []string{"net"}),
	}
}

// ObserveNode records a request to the node. status is 0 when no reply was received.
func (m *Metrics) ObserveNode(method string, status int, d time.Duration) {
	if m == nil {
		return
	}

	m.NodeRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.NodeLatency.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveAPI records a request served by the REST API.
func (m *Metrics) ObserveAPI(route string, code int) {
	if m == nil {
		return
	}

	m.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// ObserveTx records a submitted token transaction.
func (m *Metrics) ObserveTx(kind string, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.TxSubmitted.WithLabelValues(kind, result).Inc()
}

// ObserveBridge records an update applied by the bridge.
func (m *Metrics) ObserveBridge(source string) {
	if m == nil {
		return
	}

	m.BridgeUpdates.WithLabelValues(source).Inc()
}

// SetWatched sets the number of watched accounts and held tokens of a network.
func (m *Metrics) SetWatched(net string, accounts, tokens int) {
	if m == nil {
		return
	}

	m.WatchedAccounts.WithLabelValues(net).Set(float64(accounts))
	m.HeldTokens.WithLabelValues(net).Set(float64(tokens))
}

// ObserveHoldings records published holdings changes.
func (m *Metrics) ObserveHoldings(net string, n int) {
	if m == nil {
		return
	}

	m.HoldingsChanges.WithLabelValues(net).Add(float64(n))
}
