package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce      sync.Once
	eventCounter     metric.Int64Counter
	turnCounter      metric.Int64Counter
	latencyHistogram metric.Float64Histogram
)

func installMetrics(m meter) {
	metricsOnce.Do(func() {
		if m == nil {
			return
		}
		eventCounter, _ = m.Int64Counter("voiceloop.events", metric.WithDescription("Webhook events received"))
		turnCounter, _ = m.Int64Counter("voiceloop.turns", metric.WithDescription("Conversational turns by outcome"))
		latencyHistogram, _ = m.Float64Histogram("voiceloop.request.latency_ms", metric.WithDescription("External call latency (ms)"))
	})
}

type meter interface {
	Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error)
	Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error)
}

// RecordEvent counts a received webhook event.
func RecordEvent(eventType string) {
	if eventCounter != nil {
		eventCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event.type", eventType)))
	}
}

// RecordTurn counts a processed, dropped, or failed conversational turn.
func RecordTurn(outcome string) {
	if turnCounter != nil {
		turnCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("turn.outcome", outcome)))
	}
}

func recordLatency(ms float64, attrs ...attribute.KeyValue) {
	if latencyHistogram != nil {
		if len(attrs) > 0 {
			latencyHistogram.Record(context.Background(), ms, metric.WithAttributes(attrs...))
		} else {
			latencyHistogram.Record(context.Background(), ms)
		}
	}
}
