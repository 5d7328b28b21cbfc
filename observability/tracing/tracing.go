// Package tracing opens one OpenTelemetry span per scheduled task.
//
// A Tracer plugs into core.SchedulerConfig.Tracer. The span starts when the
// task is spawned and ends when it completes, so its duration is the task's
// lifetime including time spent suspended. Every resume of the task runs with
// the span's context, which lets task code start child spans.
package tracing

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/Swind/go-task-runtime/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Swind/go-task-runtime"

// Attribute keys set on task spans.
const (
	AttrTaskID    = attribute.Key("task.id")
	AttrTaskName  = attribute.Key("task.name")
	AttrScheduler = attribute.Key("task.scheduler")
	AttrResumes   = attribute.Key("task.resumes")
	AttrAborted   = attribute.Key("task.aborted")
	AttrPanicked  = attribute.Key("task.panicked")
)

// Tracer implements core.TaskTracer on top of an OpenTelemetry tracer.
type Tracer struct {
	provider trace.TracerProvider
}

var _ core.TaskTracer = (*Tracer)(nil)

// Option configures a Tracer.
type Option func(*Tracer)

// WithTracerProvider uses provider instead of the global one.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(t *Tracer) { t.provider = provider }
}

// NewTracer creates a Tracer. Without options it resolves the global
// provider on every span, so Init may be called afterwards.
func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracer) tracer() trace.Tracer {
	provider := t.provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(instrumentationName)
}

// StartTask starts the task span. The returned end func records the final
// error and closes the span; calling it more than once is harmless.
func (t *Tracer) StartTask(ctx context.Context, schedulerName string, task *core.Task) (context.Context, func(error)) {
	ctx, span := t.tracer().Start(ctx, task.Name(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(task.CreatedAt()),
		trace.WithAttributes(
			AttrTaskID.String(task.ID().String()),
			AttrTaskName.String(task.Name()),
			AttrScheduler.String(schedulerName),
		),
	)

	var once sync.Once
	end := func(err error) {
		once.Do(func() {
			span.SetAttributes(AttrResumes.Int64(task.Resumes()))
			switch {
			case err == nil:
				span.SetStatus(codes.Ok, "")
			case errors.Is(err, core.ErrTaskAborted), errors.Is(err, core.ErrSchedulerShutdown):
				span.SetAttributes(AttrAborted.Bool(true))
				span.SetStatus(codes.Error, err.Error())
			default:
				var failure *core.TaskFailure
				if errors.As(err, &failure) {
					span.SetAttributes(AttrPanicked.Bool(failure.Panicked()))
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		})
	}
	return ctx, end
}

// Init configures OpenTelemetry with the stdout exporter. If outputFile is
// empty traces go to os.Stdout. The first successful initialisation wins.
func Init(serviceName, serviceVersion, outputFile string) error {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		w = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}
	return installProvider(serviceName, serviceVersion, exporter)
}

// InitWithExporter configures OpenTelemetry with the supplied exporter.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	return installProvider(serviceName, serviceVersion, exporter)
}

// NewProvider builds a tracer provider around exporter without installing
// it globally. Callers own the provider and must Shutdown it.
func NewProvider(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	), nil
}

var (
	providerOnce sync.Once
	providerErr  error
)

func installProvider(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}

	providerOnce.Do(func() {
		tp, err := NewProvider(serviceName, serviceVersion, exporter)
		if err != nil {
			providerErr = err
			return
		}
		otel.SetTracerProvider(tp)
	})

	return providerErr
}
