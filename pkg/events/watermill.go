// Package events is the transactional outbox for catalog changes. The local
// store publishes a pokemon.page_merged message in the same Postgres
// transaction as the merge it describes; the worker consumes it.
//
// Delivery is at-least-once. All worker instances share one consumer group,
// so each message is handled by one instance. A handler error is retried with
// backoff and then Nacked for redelivery, unless the handler marks it
// Permanent, in which case the message is Acked and dropped. Messages whose
// event_id was handled recently are Acked without calling the handler again.
//
// OTel trace context is injected into message metadata on publish and restored
// on delivery, so a merge and the cache warm it triggers share one trace.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	watermillsql "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/components/forwarder"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ghuser/pokedex/pkg/config"
	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/pkg/resilience/retry"
)

const (
	shutdownTimeout = 30 * time.Second
	forwarderTopic  = "_forwarder_queue" // internal outbox topic for the Forwarder daemon
	errBuffer       = 100

	// MetaEventID and MetaEventVersion are the message metadata keys set by
	// NewJSONMessage.
	MetaEventID      = "event_id"
	MetaEventVersion = "event_version"
)

// handlerRetry is the in-process retry applied before a message is Nacked.
var handlerRetry = retry.Config{
	MaxAttempts:    3,
	InitialDelay:   time.Second,
	MaxDelay:       4 * time.Second,
	Multiplier:     2,
	JitterFraction: 0.1,
	Retryable:      func(err error) bool { return !IsPermanent(err) },
}

// ErrPermanent marks a handler failure that redelivery cannot fix, such as
// an undecodable payload.
var ErrPermanent = errors.New("permanent handler failure")

// Permanent wraps err so the bus drops the message instead of redelivering it.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// EventBus is the Postgres outbox built on Watermill's SQL transport. It
// uses FOR UPDATE SKIP LOCKED under the hood for concurrent-safe delivery.
type EventBus struct {
	publisher    message.Publisher // direct SQL publisher or forwarder-decorated
	subscriber   *watermillsql.Subscriber
	fwd          *forwarder.Forwarder // non-nil only once StartForwarder ran
	db           *sql.DB
	log          logger.Logger
	wlog         watermill.LoggerAdapter
	retry        retry.Config
	seen         *recentIDs
	wg           sync.WaitGroup
	useForwarder bool
}

// NewEventBus opens cfg.DatabaseURL and wires a publisher and a subscriber in
// the "<service>-consumer" group. Schema tables are created on first use.
// The worker uses this variant.
func NewEventBus(cfg *config.Config, log logger.Logger) (*EventBus, error) {
	return newEventBus(cfg, log, false)
}

// NewEventBusWithForwarder is NewEventBus for publishers: messages are
// written to a durable forwarder queue and moved to their topic by the
// daemon started with StartForwarder, so a crash after commit loses nothing.
func NewEventBusWithForwarder(cfg *config.Config, log logger.Logger) (*EventBus, error) {
	return newEventBus(cfg, log, true)
}

func newEventBus(cfg *config.Config, log logger.Logger, useForwarder bool) (*EventBus, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("events: open db: %w", err)
	}
	log = log.With("component", "events")
	wlog := &slogAdapter{log: log}

	pub, err := newSQLPublisher(db, true, wlog)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("events: new publisher: %w", err)
	}
	sub, err := newSQLSubscriber(db, cfg.ServiceName+"-consumer", wlog)
	if err != nil {
		_ = pub.Close()
		_ = db.Close()
		return nil, fmt.Errorf("events: new subscriber: %w", err)
	}

	return &EventBus{
		publisher:    wrapForwarder(pub, useForwarder),
		subscriber:   sub,
		db:           db,
		log:          log,
		wlog:         wlog,
		retry:        handlerRetry,
		seen:         newRecentIDs(recentIDCapacity),
		useForwarder: useForwarder,
	}, nil
}

func newSQLPublisher(db watermillsql.ContextExecutor, autoInit bool, wlog watermill.LoggerAdapter) (*watermillsql.Publisher, error) {
	return watermillsql.NewPublisher(db, watermillsql.PublisherConfig{
		SchemaAdapter:        watermillsql.DefaultPostgreSQLSchema{},
		AutoInitializeSchema: autoInit,
	}, wlog)
}

func newSQLSubscriber(db *sql.DB, group string, wlog watermill.LoggerAdapter) (*watermillsql.Subscriber, error) {
	return watermillsql.NewSubscriber(db, watermillsql.SubscriberConfig{
		SchemaAdapter:    watermillsql.DefaultPostgreSQLSchema{},
		OffsetsAdapter:   watermillsql.DefaultPostgreSQLOffsetsAdapter{},
		InitializeSchema: true,
		ConsumerGroup:    group,
	}, wlog)
}

func wrapForwarder(pub message.Publisher, enabled bool) message.Publisher {
	if !enabled {
		return pub
	}
	return forwarder.NewPublisher(pub, forwarder.PublisherConfig{ForwarderTopic: forwarderTopic})
}

// StartForwarder starts the daemon that drains the forwarder queue into the
// target topics. Call it once, on a bus from NewEventBusWithForwarder.
func (q *EventBus) StartForwarder(ctx context.Context) error {
	if !q.useForwarder {
		return errors.New("events: StartForwarder called on non-forwarder EventBus")
	}
	if q.fwd != nil {
		return errors.New("events: forwarder already started")
	}

	fwdSub, err := newSQLSubscriber(q.db, "forwarder-consumer", q.wlog)
	if err != nil {
		return fmt.Errorf("events: new forwarder subscriber: %w", err)
	}
	targetPub, err := newSQLPublisher(q.db, true, q.wlog)
	if err != nil {
		_ = fwdSub.Close()
		return fmt.Errorf("events: new forwarder target publisher: %w", err)
	}
	fwd, err := forwarder.NewForwarder(fwdSub, targetPub, q.wlog, forwarder.Config{
		ForwarderTopic: forwarderTopic,
	})
	if err != nil {
		_ = targetPub.Close()
		_ = fwdSub.Close()
		return fmt.Errorf("events: create forwarder: %w", err)
	}
	q.fwd = fwd

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.log.InfoContext(ctx, "forwarder started")
		if err := fwd.Run(ctx); err != nil {
			q.log.ErrorContext(ctx, "forwarder stopped with error", "error", err)
			return
		}
		q.log.InfoContext(ctx, "forwarder stopped")
	}()

	select {
	case <-fwd.Running():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events: context cancelled waiting for forwarder: %w", ctx.Err())
	}
}

// DB returns the underlying *sql.DB.
func (q *EventBus) DB() *sql.DB {
	return q.db
}

// NewTxPublisher returns a Publisher bound to tx, so messages become visible
// only if tx commits. Outbox tables exist once the bus has started, so the
// schema is not re-initialized inside the transaction.
func (q *EventBus) NewTxPublisher(tx *sql.Tx) (message.Publisher, error) {
	pub, err := newSQLPublisher(tx, false, q.wlog)
	if err != nil {
		return nil, fmt.Errorf("events: new tx publisher: %w", err)
	}
	return wrapForwarder(pub, q.useForwarder), nil
}

// Publish sends msgs to topic outside any transaction.
func (q *EventBus) Publish(ctx context.Context, topic string, msgs ...*message.Message) error {
	injectTrace(ctx, msgs)
	if err := q.publisher.Publish(topic, msgs...); err != nil { //nolint:contextcheck
		return fmt.Errorf("events: publish to %s: %w", topic, err)
	}
	return nil
}

// PublishInTx publishes msgs inside tx. The postgres PokemonStore calls it
// from its merge transaction.
func (q *EventBus) PublishInTx(ctx context.Context, tx *sql.Tx, topic string, msgs ...*message.Message) error {
	pub, err := q.NewTxPublisher(tx)
	if err != nil {
		return err
	}
	injectTrace(ctx, msgs)
	if err := pub.Publish(topic, msgs...); err != nil { //nolint:contextcheck
		return fmt.Errorf("events: publish to %s in tx: %w", topic, err)
	}
	return nil
}

// NewJSONMessage marshals payload into a message carrying event_id and
// event_version metadata.
func NewJSONMessage(eventID string, version int, payload any) (*message.Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	msg.Metadata.Set(MetaEventID, eventID)
	msg.Metadata.Set(MetaEventVersion, strconv.Itoa(version))
	return msg, nil
}

func injectTrace(ctx context.Context, msgs []*message.Message) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for _, msg := range msgs {
		for k, v := range carrier {
			msg.Metadata.Set(k, v)
		}
	}
}

func extractTrace(ctx context.Context, msg *message.Message) context.Context {
	carrier := propagation.MapCarrier{}
	for k, v := range msg.Metadata {
		carrier[k] = v
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// Handler processes one delivered message.
type Handler func(context.Context, *message.Message) error

// Subscribe runs handler for every message on topic until ctx ends or the
// bus closes. Failures that outlive the retries are sent to the returned
// channel (capacity 100), which callers must drain:
//
//	errCh, err := bus.Subscribe(ctx, topic, handler)
//	go func() { for err := range errCh { log.ErrorContext(ctx, "subscriber error", "error", err) } }()
//
// All in-flight handlers complete before Close returns.
func (q *EventBus) Subscribe(ctx context.Context, topic string, handler Handler) (<-chan error, error) {
	ch, err := q.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("events: subscribe to %s: %w", topic, err)
	}

	errCh := make(chan error, errBuffer)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer close(errCh)
		for msg := range ch {
			msgCtx := extractTrace(ctx, msg)
			if err := q.process(msgCtx, msg, handler); err != nil {
				select {
				case errCh <- fmt.Errorf("events: %s: %w", topic, err):
				default:
					q.log.ErrorContext(msgCtx, "error channel full, dropping error", "error", err, "topic", topic)
				}
			}
		}
	}()
	return errCh, nil
}

// process delivers msg to handler, then Acks or Nacks it. Permanent failures
// are Acked and returned; retryable ones are Nacked and returned.
func (q *EventBus) process(ctx context.Context, msg *message.Message, handler Handler) error {
	eventID := msg.Metadata.Get(MetaEventID)
	if eventID != "" && q.seen.contains(eventID) {
		q.log.DebugContext(ctx, "skipping redelivered event", "event_id", eventID)
		msg.Ack()
		return nil
	}

	err := retry.WithBackoff(ctx, q.retry, q.log, func(ctx context.Context) error {
		return handler(ctx, msg)
	})
	switch {
	case err == nil:
		q.seen.add(eventID)
		msg.Ack()
		return nil
	case IsPermanent(err):
		q.log.WarnContext(ctx, "dropping message after permanent failure", "event_id", eventID, "error", err)
		q.seen.add(eventID)
		msg.Ack()
		return err
	default:
		msg.Nack()
		return err
	}
}

// Ping checks the outbox database connection.
func (q *EventBus) Ping(ctx context.Context) error {
	if err := q.db.PingContext(ctx); err != nil {
		return fmt.Errorf("events: ping db: %w", err)
	}
	return nil
}

// Close stops the subscriber and forwarder, waits up to 30s for in-flight
// handlers, then closes the publisher and the database.
func (q *EventBus) Close() error {
	if err := q.subscriber.Close(); err != nil {
		return fmt.Errorf("events: close subscriber: %w", err)
	}
	if q.fwd != nil {
		if err := q.fwd.Close(); err != nil {
			return fmt.Errorf("events: close forwarder: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		q.log.Error("timed out waiting for in-flight handlers to complete")
	}

	if err := q.publisher.Close(); err != nil {
		return fmt.Errorf("events: close publisher: %w", err)
	}
	return q.db.Close()
}

// slogAdapter bridges logger.Logger to watermill.LoggerAdapter.
type slogAdapter struct{ log logger.Logger }

func (a *slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(msg, append(fieldsToArgs(fields), "error", err)...)
}
func (a *slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(msg, fieldsToArgs(fields)...)
}
func (a *slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, fieldsToArgs(fields)...)
}
func (a *slogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, fieldsToArgs(fields)...)
}
func (a *slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &slogAdapter{log: a.log.With(fieldsToArgs(fields)...)}
}

func fieldsToArgs(fields watermill.LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}
