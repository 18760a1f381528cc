package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveNode("table_item", 404, 10*time.Millisecond)
	m.ObserveNode("table_item", 404, 10*time.Millisecond)
	m.ObserveTx("collection", nil)
	m.ObserveTx("collection", errors.New("boom"))
	m.SetWatched("devnet", 3, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NodeRequests.WithLabelValues("table_item", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxSubmitted.WithLabelValues("collection", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxSubmitted.WithLabelValues("collection", "error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.HeldTokens.WithLabelValues("devnet")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveNode("x", 200, time.Second)
		m.ObserveAPI("/", 200)
		m.ObserveTx("x", nil)
		m.ObserveBridge("poll")
		m.SetWatched("net", 1, 1)
		m.ObserveHoldings("net", 1)
	})
}
