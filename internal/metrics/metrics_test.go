package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestNilRecordersAreSafe(t *testing.T) {
	var c *Client
	c.CallStarted()
	c.CallFinished("ping", StatusOK, time.Millisecond)
	c.Notification("notice")
	c.Dropped(DropDecode)
	c.Connect(nil)

	var g *Gateway
	g.ConnectionOpened()
	g.ConnectionClosed()
	g.Request("ping", StatusOK)
	g.NotificationSent()
	g.TokenIssued()

	if NewClient(nil, "") != nil {
		t.Fatal("NewClient(nil) != nil, want nil")
	}
	if NewGateway(nil, "") != nil {
		t.Fatal("NewGateway(nil) != nil, want nil")
	}
}

func TestClientRecordsCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClient(reg, "test")

	m.CallStarted()
	m.CallStarted()
	if got := gaugeValue(t, m.pending); got != 2 {
		t.Fatalf("pending=%v, want 2", got)
	}

	m.CallFinished("ping", StatusOK, 10*time.Millisecond)
	m.CallFinished("ping", StatusRemoteError, 10*time.Millisecond)
	if got := gaugeValue(t, m.pending); got != 0 {
		t.Fatalf("pending=%v, want 0", got)
	}
	if got := counterValue(t, m.calls.WithLabelValues("ping", StatusOK)); got != 1 {
		t.Fatalf("calls{ok}=%v, want 1", got)
	}
	if got := counterValue(t, m.calls.WithLabelValues("ping", StatusRemoteError)); got != 1 {
		t.Fatalf("calls{remote_error}=%v, want 1", got)
	}

	m.Dropped(DropNoHandler)
	if got := counterValue(t, m.dropped.WithLabelValues(DropNoHandler)); got != 1 {
		t.Fatalf("dropped{no_handler}=%v, want 1", got)
	}

	m.Connect(errors.New("refused"))
	m.Connect(nil)
	if got := counterValue(t, m.connects.WithLabelValues("error")); got != 1 {
		t.Fatalf("connects{error}=%v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("Gather returned no metric families")
	}
}

func TestGatewayRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGateway(reg, "")

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	if got := gaugeValue(t, m.connections); got != 1 {
		t.Fatalf("connections=%v, want 1", got)
	}
	m.TokenIssued()
	if got := counterValue(t, m.tokens); got != 1 {
		t.Fatalf("tokens=%v, want 1", got)
	}
}
