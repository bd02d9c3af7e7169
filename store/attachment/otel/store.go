// Package otel decorates an attachment file store with OpenTelemetry
// traces and metrics. Upload and load byte counts are measured on the
// wire, so a load span stays open until the caller closes the reader.
package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pmbox/pmbox/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pmbox/pmbox/store/attachment/otel"

// opMetrics holds the instrument set recorded for one store operation.
type opMetrics struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
	bytes   metric.Int64Counter
}

// newOpMetrics registers the instruments for op ("upload", "load" or
// "delete"). Delete has no byte counter.
func newOpMetrics(meter metric.Meter, op string, withBytes bool) (opMetrics, error) {
	var m opMetrics
	var err error

	m.latency, err = meter.Float64Histogram(
		fmt.Sprintf("attachment.%s.duration", op),
		metric.WithDescription(fmt.Sprintf("Duration of attachment %s operations", op)),
		metric.WithUnit("s"),
	)
	if err != nil {
		return m, err
	}
	m.count, err = meter.Int64Counter(
		fmt.Sprintf("attachment.%s.count", op),
		metric.WithDescription(fmt.Sprintf("Number of attachment %s operations", op)),
	)
	if err != nil {
		return m, err
	}
	m.errors, err = meter.Int64Counter(
		fmt.Sprintf("attachment.%s.errors", op),
		metric.WithDescription(fmt.Sprintf("Number of attachment %s errors", op)),
	)
	if err != nil {
		return m, err
	}
	if withBytes {
		m.bytes, err = meter.Int64Counter(
			fmt.Sprintf("attachment.%s.bytes", op),
			metric.WithDescription(fmt.Sprintf("Total attachment bytes for %s operations", op)),
			metric.WithUnit("By"),
		)
		if err != nil {
			return m, err
		}
	}
	return m, nil
}

// record writes the latency and count samples for one finished call.
func (m opMetrics) record(ctx context.Context, dur time.Duration, err error, attrs metric.MeasurementOption) {
	m.latency.Record(ctx, dur.Seconds(), attrs)
	m.count.Add(ctx, 1, attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// Store instruments a backend attachment file store.
type Store struct {
	backend store.AttachmentFileStore

	serviceName string
	tracer      trace.Tracer

	upload opMetrics
	load   opMetrics
	delete opMetrics

	metricsEnabled bool
}

var _ store.AttachmentFileStore = (*Store)(nil)

// New wraps backend with tracing and metrics. Providers default to the
// global OTel providers.
func New(backend store.AttachmentFileStore, opts ...Option) (*Store, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "pmbox",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{
		backend:        backend,
		serviceName:    o.serviceName,
		metricsEnabled: o.metricsEnabled,
	}

	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		meter := o.meterProvider.Meter(instrumentationName)
		var err error
		if s.upload, err = newOpMetrics(meter, "upload", true); err != nil {
			return nil, fmt.Errorf("init upload metrics: %w", err)
		}
		if s.load, err = newOpMetrics(meter, "load", true); err != nil {
			return nil, fmt.Errorf("init load metrics: %w", err)
		}
		if s.delete, err = newOpMetrics(meter, "delete", false); err != nil {
			return nil, fmt.Errorf("init delete metrics: %w", err)
		}
	}

	return s, nil
}

func (s *Store) startSpan(ctx context.Context, name string, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attrs...)
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Upload stores content through the backend, recording the duration and
// bytes read from the caller.
func (s *Store) Upload(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String("attachment.filename", filename),
		attribute.String("attachment.content_type", contentType),
		attribute.String("service.name", s.serviceName),
	}
	ctx, span := s.startSpan(ctx, "attachment.upload", attrs)

	counted := &byteCounter{r: content}
	start := time.Now()
	uri, err := s.backend.Upload(ctx, filename, contentType, counted)
	dur := time.Since(start)

	if s.metricsEnabled {
		mattrs := metric.WithAttributes(attrs...)
		s.upload.record(ctx, dur, err, mattrs)
		s.upload.bytes.Add(ctx, counted.n, mattrs)
	}
	endSpan(span, err,
		attribute.String("attachment.uri", uri),
		attribute.Int64("attachment.bytes", counted.n),
	)
	return uri, err
}

// Load fetches content from the backend. The returned reader keeps the
// span open and counts bytes until Close.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	attrs := []attribute.KeyValue{
		attribute.String("attachment.uri", uri),
		attribute.String("service.name", s.serviceName),
	}
	ctx, span := s.startSpan(ctx, "attachment.load", attrs)

	start := time.Now()
	reader, err := s.backend.Load(ctx, uri)
	dur := time.Since(start)

	if s.metricsEnabled {
		s.load.record(ctx, dur, err, metric.WithAttributes(attrs...))
	}
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	return &loadReader{
		reader: reader,
		span:   span,
		store:  s,
		ctx:    ctx,
		attrs:  attrs,
	}, nil
}

// Delete removes the object through the backend.
func (s *Store) Delete(ctx context.Context, uri string) error {
	attrs := []attribute.KeyValue{
		attribute.String("attachment.uri", uri),
		attribute.String("service.name", s.serviceName),
	}
	ctx, span := s.startSpan(ctx, "attachment.delete", attrs)

	start := time.Now()
	err := s.backend.Delete(ctx, uri)
	dur := time.Since(start)

	if s.metricsEnabled {
		s.delete.record(ctx, dur, err, metric.WithAttributes(attrs...))
	}
	endSpan(span, err)
	return err
}

type byteCounter struct {
	r io.Reader
	n int64
}

func (c *byteCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// loadReader defers byte accounting and span completion to Close.
type loadReader struct {
	reader io.ReadCloser
	span   trace.Span
	store  *Store
	ctx    context.Context
	attrs  []attribute.KeyValue
	n      int64
	closed bool
}

func (r *loadReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *loadReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.reader.Close()
	if r.store.metricsEnabled {
		r.store.load.bytes.Add(r.ctx, r.n, metric.WithAttributes(r.attrs...))
	}
	endSpan(r.span, err, attribute.Int64("attachment.bytes", r.n))
	return err
}
