package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/resilience"
)

const workerQueueGroup = "retrieval-workers"

// RetrievalHandler answers one request received on the bus.
type RetrievalHandler func(context.Context, domain.RetrievalRequest) (*domain.RetrievalResult, error)

// Bus carries retrieval requests over NATS request/reply. Workers serve a
// queue group on the subject; clients use Retrieve.
type Bus struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger

	requestTimeout time.Duration
	handlerTimeout time.Duration
	maxConcurrent  int
}

func New(url, subject string) (*Bus, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	RequestTimeout       time.Duration
	HandlerTimeout       time.Duration
	MaxConcurrent        int
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url, subject string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("corpus-retrieval"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newBus(conn, subject, options, logger), nil
}

func newBus(conn *nats.Conn, subject string, options Options, logger *slog.Logger) *Bus {
	requestTimeout := options.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	handlerTimeout := options.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = 25 * time.Second
	}
	maxConcurrent := options.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Bus{
		conn:           conn,
		subject:        subject,
		executor:       options.ResilienceExecutor,
		logger:         logger,
		requestTimeout: requestTimeout,
		handlerTimeout: handlerTimeout,
		maxConcurrent:  maxConcurrent,
	}
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Retrieve sends the request to any worker in the queue group and waits for its reply.
func (b *Bus) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval request: %w", err)
	}

	call := func(callCtx context.Context) (*nats.Msg, error) {
		reqCtx, cancel := context.WithTimeout(callCtx, b.requestTimeout)
		defer cancel()
		msg, err := b.conn.RequestWithContext(reqCtx, b.subject, payload)
		if err != nil {
			return nil, wrapTemporaryIfNeeded(fmt.Errorf("nats request: %w", err))
		}
		return msg, nil
	}

	msg, err := resilience.Do(ctx, b.executor, "nats.request", call, classifyNATSError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded(err)
	}
	return decodeReply(msg.Data)
}

// ServeRetrieval answers requests until ctx ends, then drains the subscription.
// Up to maxConcurrent requests are handled at once; further messages wait in
// the subscription's pending queue.
func (b *Bus) ServeRetrieval(ctx context.Context, handler RetrievalHandler) error {
	d := newDispatcher(ctx, b.maxConcurrent, b.handlerTimeout, handler, b.logger)
	sub, err := b.conn.QueueSubscribe(b.subject, workerQueueGroup, func(msg *nats.Msg) {
		d.dispatch(msg.Data, func(reply []byte) {
			if msg.Reply == "" {
				return
			}
			if err := msg.Respond(reply); err != nil {
				b.logger.Warn("nats_respond_failed", "error", err)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	d.wait()
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// dispatcher runs handlers on their own goroutines, bounded by a semaphore.
type dispatcher struct {
	ctx     context.Context
	slots   *semaphore.Weighted
	size    int64
	timeout time.Duration
	handler RetrievalHandler
	logger  *slog.Logger
}

func newDispatcher(ctx context.Context, size int, timeout time.Duration, handler RetrievalHandler, logger *slog.Logger) *dispatcher {
	if size <= 0 {
		size = 1
	}
	return &dispatcher{
		ctx:     ctx,
		slots:   semaphore.NewWeighted(int64(size)),
		size:    int64(size),
		timeout: timeout,
		handler: handler,
		logger:  logger,
	}
}

// dispatch blocks until a slot is free, then handles data in the background
// and passes the encoded reply to respond. It drops the message once ctx ends.
func (d *dispatcher) dispatch(data []byte, respond func([]byte)) {
	if err := d.slots.Acquire(d.ctx, 1); err != nil {
		return
	}
	go func() {
		defer d.slots.Release(1)
		handlerCtx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()
		respond(handleRequest(handlerCtx, data, d.handler, d.logger))
	}()
}

// wait returns once every dispatched handler has finished.
func (d *dispatcher) wait() {
	_ = d.slots.Acquire(context.Background(), d.size)
}

type reply struct {
	Result *domain.RetrievalResult `json:"result,omitempty"`
	Error  *replyError             `json:"error,omitempty"`
}

type replyError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var errorKinds = []struct {
	name string
	err  error
}{
	{"invalid_input", domain.ErrInvalidInput},
	{"embedding_provider", domain.ErrEmbeddingProvider},
	{"chunk_store", domain.ErrChunkStore},
	{"chunk_not_found", domain.ErrChunkNotFound},
	{"temporary", domain.ErrTemporary},
}

func handleRequest(ctx context.Context, data []byte, handler RetrievalHandler, logger *slog.Logger) []byte {
	var req domain.RetrievalRequest
	var out reply
	if err := json.Unmarshal(data, &req); err != nil {
		out.Error = encodeError(domain.WrapError(domain.ErrInvalidInput, "decode request", err))
	} else if result, err := handler(ctx, req); err != nil {
		logger.Warn("nats_retrieval_failed", "error", err)
		out.Error = encodeError(err)
	} else {
		out.Result = result
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		encoded, _ = json.Marshal(reply{Error: &replyError{Kind: "internal", Message: err.Error()}})
	}
	return encoded
}

func encodeError(err error) *replyError {
	kind := "internal"
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			kind = k.name
			break
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = "temporary"
	}
	return &replyError{Kind: kind, Message: err.Error()}
}

func decodeReply(data []byte) (*domain.RetrievalResult, error) {
	var in reply
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode retrieval reply: %w", err)
	}
	if in.Error != nil {
		remote := errors.New(in.Error.Message)
		for _, k := range errorKinds {
			if k.name == in.Error.Kind {
				return nil, domain.WrapError(k.err, "remote retrieval", remote)
			}
		}
		return nil, fmt.Errorf("remote retrieval: %w", remote)
	}
	if in.Result == nil {
		return nil, errors.New("remote retrieval: empty reply")
	}
	return in.Result, nil
}
