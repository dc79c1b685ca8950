package kafka

import (
	"context"
	"sort"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const (
	headerContentType = "content-type"
	headerEventSource = "leadbook-source"
)

// headerCarrier adapts message headers to the OTel text map propagator.
type headerCarrier map[string]string

func (h headerCarrier) Get(k string) string { return h[k] }
func (h headerCarrier) Set(k, v string)     { h[k] = v }

func (h headerCarrier) Keys() []string {
	ks := make([]string, 0, len(h))
	for k := range h {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// messageHeaders carries the trace context of ctx plus the fixed headers
// every session event gets. Keys come out sorted.
func messageHeaders(ctx context.Context, source string) []kafka.Header {
	h := headerCarrier{headerContentType: "application/json"}
	if source != "" {
		h[headerEventSource] = source
	}
	otel.GetTextMapPropagator().Inject(ctx, h)

	out := make([]kafka.Header, 0, len(h))
	for _, k := range h.Keys() {
		out = append(out, kafka.Header{Key: k, Value: []byte(h[k])})
	}
	return out
}
