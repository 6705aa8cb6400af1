package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/messaging"
)

var tracer = otel.Tracer("github.com/Additional-Code/copra/worker")

// HandlerRegistration binds message topics to handlers.
type HandlerRegistration struct {
	Topic   string
	Handler messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine runs a pool of consumers and routes each message to its topic handler.
type Engine struct {
	client        messaging.Client
	logger        *zap.Logger
	workers       config.Worker
	enabled       bool
	registrations map[string]messaging.Handler
	retryWait     time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewEngine constructs the worker Engine. Registrations without a topic or handler are ignored.
func NewEngine(p Params) *Engine {
	reg := make(map[string]messaging.Handler, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Topic == "" || r.Handler == nil {
			continue
		}
		reg[r.Topic] = r.Handler
	}

	return &Engine{
		client:        p.Client,
		logger:        p.Logger.Named("worker"),
		workers:       p.Config.Messaging.Workers,
		enabled:       p.Config.Messaging.Enabled && p.Config.Messaging.Workers.Enabled,
		registrations: reg,
		retryWait:     200 * time.Millisecond,
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
	}),
)

func (e *Engine) start(context.Context) error {
	if !e.enabled {
		e.logger.Info("worker engine disabled")
		return nil
	}
	if len(e.registrations) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")
		return nil
	}

	concurrency := max(e.workers.Concurrency, 1)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	for i := range concurrency {
		e.wg.Add(1)
		go func(workerID int) {
			defer e.wg.Done()
			e.consumeLoop(runCtx, workerID)
		}(i)
	}

	topics := make([]string, 0, len(e.registrations))
	for topic := range e.registrations {
		topics = append(topics, topic)
	}
	e.logger.Info("worker engine started", zap.Int("workers", concurrency), zap.Strings("topics", topics))
	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.logger.Info("worker engine stopped")
		return nil
	}
}

// consumeLoop keeps a consumer attached to the bus, backing off between broken sessions.
func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second

	for ctx.Err() == nil {
		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			return e.dispatch(msgCtx, msg, workerID)
		})
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		wait := policy.NextBackOff()
		e.logger.Error("consume loop error", zap.Int("worker", workerID), zap.Duration("retry_in", wait), zap.Error(err))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// dispatch routes msg to the handler registered for its topic. Unrouted messages are
// acknowledged. A failing handler is retried in place up to MaxAttempts unless it returns a
// backoff.Permanent error; the final error is returned so the client leaves the message for
// redelivery.
func (e *Engine) dispatch(ctx context.Context, msg messaging.Message, workerID int) error {
	handler, ok := e.registrations[msg.Topic]
	if !ok {
		e.logger.Warn("no handler for topic", zap.String("topic", msg.Topic))
		return nil
	}

	event := msg.Headers[messaging.HeaderEvent]
	ctx, span := tracer.Start(ctx, "worker.dispatch", trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.String("event", event),
		attribute.Int("worker", workerID),
	))
	defer span.End()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryWait

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, e.invoke(ctx, handler, msg)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(max(e.workers.MaxAttempts, 1))))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		e.logger.Error("message handler failed",
			zap.String("topic", msg.Topic),
			zap.String("event", event),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return err
	}

	e.logger.Debug("message processed",
		zap.String("topic", msg.Topic),
		zap.String("event", event),
		zap.Int("worker", workerID),
		zap.Int("attempts", attempts),
	)
	return nil
}

// invoke runs one handler attempt under the configured timeout and turns panics into errors.
func (e *Engine) invoke(ctx context.Context, handler messaging.Handler, msg messaging.Message) (err error) {
	if e.workers.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.workers.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler(ctx, msg)
}
