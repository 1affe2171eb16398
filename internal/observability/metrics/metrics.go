package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	eventsAppended   metric.Int64Counter
	eventsPublished  metric.Int64Counter
	eventsConsumed   metric.Int64Counter
	authCacheHits    metric.Int64Counter
	authCacheMisses  metric.Int64Counter
	realtimeConns    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "platformd"
	}
	meter := provider.Meter(name)

	eventsAppended, err := meter.Int64Counter("platformd_events_appended_total")
	if err != nil {
		return nil, err
	}
	eventsPublished, err := meter.Int64Counter("platformd_events_published_total")
	if err != nil {
		return nil, err
	}
	eventsConsumed, err := meter.Int64Counter("platformd_events_consumed_total")
	if err != nil {
		return nil, err
	}
	authCacheHits, err := meter.Int64Counter("platformd_auth_cache_hits_total")
	if err != nil {
		return nil, err
	}
	authCacheMisses, err := meter.Int64Counter("platformd_auth_cache_misses_total")
	if err != nil {
		return nil, err
	}
	realtimeConns, err := meter.Int64Counter("platformd_realtime_connections_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("platformd_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("platformd_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsAppended:   eventsAppended,
		eventsPublished:  eventsPublished,
		eventsConsumed:   eventsConsumed,
		authCacheHits:    authCacheHits,
		authCacheMisses:  authCacheMisses,
		realtimeConns:    realtimeConns,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordEventAppended increments the event-store append counter.
func (m *Metrics) RecordEventAppended(ctx context.Context, streamType, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("stream_type", strings.TrimSpace(streamType)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.eventsAppended.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventPublished increments the event-bus publish counter.
func (m *Metrics) RecordEventPublished(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventConsumed increments the projection consumer counter.
func (m *Metrics) RecordEventConsumed(ctx context.Context, eventType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.eventsConsumed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAuthCacheHit increments the API-key auth cache hit counter.
func (m *Metrics) RecordAuthCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.authCacheHits.Add(ctx, 1)
}

// RecordAuthCacheMiss increments the API-key auth cache miss counter.
func (m *Metrics) RecordAuthCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.authCacheMisses.Add(ctx, 1)
}

// RecordRealtimeConnection increments the websocket gateway connection counter.
func (m *Metrics) RecordRealtimeConnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.realtimeConns.Add(ctx, 1)
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"stream_type":  {},
	"event_type":   {},
	"status":       {},
	"status_code":  {},
	"endpoint":     {},
	"reason":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
