package event

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/recode/internal/logging"
)

const instrumentationName = "github.com/dshills/recode/internal/event"

// options holds settings shared by every event constructor.
type options struct {
	name   string
	phase  string
	log    *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures an event.
type Option func(*options)

// WithName sets the event name used in logs, spans and invariant errors.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// AtPhase registers a wrapped host event's rebroadcast listener at phase
// instead of the default position.
func AtPhase(phase string) Option {
	return func(o *options) {
		o.phase = phase
	}
}

// WithLogger sets the event logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTracerProvider sets the provider spans are created from.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithClock overrides the time source used by Calibrate.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(defaultName string, opts []Option) options {
	o := options{
		name: defaultName,
		log:  logging.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	o.log = o.log.WithComponent("event").With("event", o.name)
	return o
}
