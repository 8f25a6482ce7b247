package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce       sync.Once
	eventsIngestedCounter metric.Int64Counter
	normalizeFailures     metric.Int64Counter
	proposalsCounter      metric.Int64Counter
	revertsCounter        metric.Int64Counter
	reconcileDuration     metric.Float64Histogram
	reconnectsCounter     metric.Int64Counter
	sseConnectionsGauge   metric.Int64ObservableGauge
	sseEventsCounter      metric.Int64Counter
	sseConnections        int64
	sseConnectionsMu      sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		eventsIngestedCounter, err = m.Int64Counter("agentdeck_events_ingested_total", metric.WithDescription("Push events ingested, by event name"))
		if err != nil {
			return
		}
		normalizeFailures, err = m.Int64Counter("agentdeck_normalize_failures_total", metric.WithDescription("Inbound values dropped by the normalizer"))
		if err != nil {
			return
		}
		proposalsCounter, err = m.Int64Counter("agentdeck_proposals_total", metric.WithDescription("Optimistic proposals by kind and outcome"))
		if err != nil {
			return
		}
		revertsCounter, err = m.Int64Counter("agentdeck_reverts_total", metric.WithDescription("Optimistic writes reverted after a failed request"))
		if err != nil {
			return
		}
		reconcileDuration, err = m.Float64Histogram("agentdeck_reconcile_duration_seconds", metric.WithDescription("Time from proposal to reconciliation"))
		if err != nil {
			return
		}
		reconnectsCounter, err = m.Int64Counter("agentdeck_transport_reconnects_total", metric.WithDescription("Push transport reconnect attempts"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("agentdeck_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("agentdeck_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
	})
	return err
}

// RecordEventIngested counts one push event by name.
func RecordEventIngested(ctx context.Context, event string) {
	if eventsIngestedCounter == nil {
		return
	}
	eventsIngestedCounter.Add(ctx, 1, metric.WithAttributes(AttrEvent.String(event)))
}

// RecordNormalizeFailure counts a value the normalizer rejected.
func RecordNormalizeFailure(ctx context.Context, kind string) {
	if normalizeFailures == nil {
		return
	}
	normalizeFailures.Add(ctx, 1, metric.WithAttributes(AttrKind.String(kind)))
}

// RecordProposal records a reconciled proposal and how long it took.
func RecordProposal(ctx context.Context, kind, outcome string, elapsed time.Duration) {
	if proposalsCounter != nil {
		proposalsCounter.Add(ctx, 1, metric.WithAttributes(AttrKind.String(kind), AttrOutcome.String(outcome)))
	}
	if reconcileDuration != nil {
		reconcileDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(AttrKind.String(kind)))
	}
	if outcome == "reverted" && revertsCounter != nil {
		revertsCounter.Add(ctx, 1, metric.WithAttributes(AttrKind.String(kind)))
	}
}

// RecordReconnect counts one transport reconnect attempt.
func RecordReconnect(ctx context.Context) {
	if reconnectsCounter != nil {
		reconnectsCounter.Add(ctx, 1)
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// StateFunc reports the synchronized state for gauges: ledger length and tasks per status.
type StateFunc func() (ledgerLen int64, tasksByStatus map[string]int64)

// InitMetricsWithState creates instruments and optionally registers a callback for
// the ledger size and task gauges. If state is nil, those gauges are not reported.
func InitMetricsWithState(ctx context.Context, state StateFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	m := Meter()
	ledgerGauge, err := m.Int64ObservableGauge("agentdeck_ledger_events", metric.WithDescription("Activity events currently held"))
	if err != nil {
		return err
	}
	tasksGauge, err := m.Int64ObservableGauge("agentdeck_tasks", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, byStatus := state()
		o.ObserveInt64(ledgerGauge, n)
		for status, c := range byStatus {
			o.ObserveInt64(tasksGauge, c, metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, ledgerGauge, tasksGauge)
	return err
}
