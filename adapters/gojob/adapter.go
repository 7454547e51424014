package gojob

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-flashroute/command"
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/engine"
	"github.com/goliatone/go-flashroute/outbound"
)

const (
	JobIDBorrow = "flashroute.borrow"

	paramProtocol = "protocol"
	paramVenue    = "venue"
	paramAsset    = "asset"
	paramAmount   = "amount"
	paramPayload  = "payload"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.Disposition == "" {
		out.Disposition = queue.NackDispositionRetry
	}
	if out.Disposition == queue.NackDispositionRetry && p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Disposition = queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			out.Disposition = queue.NackDispositionDeadLetter
		}
	}
	if out.Disposition != queue.NackDispositionRetry {
		out.Delay = 0
	}
	return out
}

// IdempotencyKey is the keccak of the request's initiate calldata, so equal
// requests deduplicate.
func IdempotencyKey(req core.BorrowRequest) (string, error) {
	data, err := engine.PackInitiate(req)
	if err != nil {
		return "", err
	}
	return crypto.Keccak256Hash(data).Hex(), nil
}

// ToExecutionMessage maps a borrow request to a go-job message.
func ToExecutionMessage(req core.BorrowRequest) (*job.ExecutionMessage, error) {
	key, err := IdempotencyKey(req)
	if err != nil {
		return nil, fmt.Errorf("gojob: idempotency key: %w", err)
	}
	amount := "0"
	if req.Amount != nil {
		amount = req.Amount.String()
	}
	return &job.ExecutionMessage{
		JobID:      JobIDBorrow,
		ScriptPath: JobIDBorrow,
		Parameters: map[string]any{
			paramProtocol: int(req.Protocol),
			paramVenue:    req.Venue.Hex(),
			paramAsset:    req.Asset.Hex(),
			paramAmount:   amount,
			paramPayload:  hexutil.Encode(req.Payload),
		},
		IdempotencyKey: key,
		DedupPolicy:    job.DedupPolicyDrop,
	}, nil
}

// FromExecutionMessage maps a go-job message back into a borrow request.
// Numeric parameters may arrive as JSON numbers or strings.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.BorrowRequest, error) {
	if msg == nil {
		return core.BorrowRequest{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDBorrow {
		return core.BorrowRequest{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	params := msg.Parameters
	id, err := protocolParam(params[paramProtocol])
	if err != nil {
		return core.BorrowRequest{}, err
	}
	venue, err := addressParam(params, paramVenue)
	if err != nil {
		return core.BorrowRequest{}, err
	}
	asset, err := addressParam(params, paramAsset)
	if err != nil {
		return core.BorrowRequest{}, err
	}
	amountText, _ := params[paramAmount].(string)
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountText), 10)
	if !ok {
		return core.BorrowRequest{}, fmt.Errorf("gojob: invalid amount %q", amountText)
	}
	payloadText, _ := params[paramPayload].(string)
	payload, err := hexutil.Decode(strings.TrimSpace(payloadText))
	if err != nil {
		return core.BorrowRequest{}, fmt.Errorf("gojob: invalid payload: %w", err)
	}
	return core.BorrowRequest{
		Protocol: id,
		Venue:    venue,
		Asset:    asset,
		Amount:   amount,
		Payload:  payload,
	}, nil
}

func protocolParam(value any) (core.ProtocolID, error) {
	switch typed := value.(type) {
	case int:
		return core.ProtocolID(typed), nil
	case float64:
		return core.ProtocolID(int(typed)), nil
	case string:
		return core.ParseProtocol(typed)
	default:
		return 0, fmt.Errorf("gojob: invalid protocol parameter %v", value)
	}
}

func addressParam(params map[string]any, key string) (common.Address, error) {
	text, _ := params[key].(string)
	text = strings.TrimSpace(text)
	if !common.IsHexAddress(text) {
		return common.Address{}, fmt.Errorf("gojob: invalid %s %q", key, text)
	}
	return common.HexToAddress(text), nil
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

// EnqueueBorrow rejects invalid requests up front and enqueues the rest.
// A duplicate of an accepted request fails with job.ErrIdempotentDrop when
// the queue enforces the drop policy.
func (a *EnqueuerAdapter) EnqueueBorrow(ctx context.Context, req core.BorrowRequest) (queue.EnqueueReceipt, error) {
	if a == nil || a.enqueuer == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: enqueuer is not configured")
	}
	if err := outbound.Validate(req); err != nil {
		return queue.EnqueueReceipt{}, err
	}
	msg, err := ToExecutionMessage(req)
	if err != nil {
		return queue.EnqueueReceipt{}, err
	}
	return a.enqueuer.Enqueue(ctx, msg)
}

// BorrowWorker drains borrow jobs into a borrow service. Failures carrying
// a non-internal engine error code go straight to dead letter.
type BorrowWorker struct {
	dequeuer queue.Dequeuer
	service  command.BorrowService
	policy   RetryPolicy
	hook     worker.Hook
	logger   glog.Logger
	retry    time.Duration

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*BorrowWorker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *BorrowWorker) {
		w.policy = policy
	}
}

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *BorrowWorker) {
		w.hook = hook
	}
}

func WithLogger(logger glog.Logger) WorkerOption {
	return func(w *BorrowWorker) {
		w.logger = logger
	}
}

func WithRetryDelay(delay time.Duration) WorkerOption {
	return func(w *BorrowWorker) {
		w.retry = delay
	}
}

func NewBorrowWorker(dequeuer queue.Dequeuer, service command.BorrowService, opts ...WorkerOption) *BorrowWorker {
	w := &BorrowWorker{
		dequeuer: dequeuer,
		service:  service,
		policy:   RetryPolicy{MaxAttempts: 3, DeadLetterOnMax: true},
		retry:    time.Second,
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.logger = glog.Ensure(w.logger)
	return w
}

// ProcessNext runs one delivery to completion and returns the borrow
// receipt. Decode failures are dead-lettered.
func (w *BorrowWorker) ProcessNext(ctx context.Context) (core.BorrowReceipt, error) {
	if w == nil || w.dequeuer == nil || w.service == nil {
		return core.BorrowReceipt{}, fmt.Errorf("gojob: borrow worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return core.BorrowReceipt{}, err
	}
	msg := delivery.Message()
	attempt := w.nextAttempt(msg)
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: time.Now().UTC()}
	w.emit(ctx, w.onStart, event)

	req, err := FromExecutionMessage(msg)
	if err != nil {
		event.Err = err
		event.Duration = time.Since(event.StartedAt)
		w.emit(ctx, w.onFailure, event)
		if nackErr := delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: err.Error()}); nackErr != nil {
			return core.BorrowReceipt{}, nackErr
		}
		return core.BorrowReceipt{}, err
	}

	receipt, err := w.service.InitiateBorrow(ctx, req)
	event.Duration = time.Since(event.StartedAt)
	if err == nil {
		w.forget(msg)
		w.emit(ctx, w.onSuccess, event)
		w.logger.Info("borrow job succeeded", "protocol", req.Protocol.String(), "attempt", attempt)
		return receipt, delivery.Ack(ctx)
	}

	event.Err = err
	opts := queue.NackOptions{Disposition: queue.NackDispositionRetry, Delay: w.retry, Reason: err.Error()}
	if code := core.EngineCode(err); code != "" && code != core.ErrorInternal {
		opts = queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: err.Error()}
	}
	opts = w.policy.NormalizeAttempt(opts, attempt)
	if opts.Disposition == queue.NackDispositionRetry {
		event.Delay = opts.Delay
		w.emit(ctx, w.onRetry, event)
	} else {
		w.forget(msg)
		w.emit(ctx, w.onFailure, event)
	}
	w.logger.Error("borrow job failed",
		"protocol", req.Protocol.String(),
		"attempt", attempt,
		"disposition", string(opts.Disposition),
		"error", err,
	)
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		return receipt, nackErr
	}
	return receipt, err
}

func (w *BorrowWorker) nextAttempt(msg *job.ExecutionMessage) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := attemptKey(msg)
	w.attempts[key]++
	return w.attempts[key]
}

func (w *BorrowWorker) forget(msg *job.ExecutionMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, attemptKey(msg))
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return strings.TrimSpace(msg.IdempotencyKey)
}

func (w *BorrowWorker) onStart(ctx context.Context, event worker.Event) {
	w.hook.OnStart(ctx, event)
}

func (w *BorrowWorker) onSuccess(ctx context.Context, event worker.Event) {
	w.hook.OnSuccess(ctx, event)
}

func (w *BorrowWorker) onFailure(ctx context.Context, event worker.Event) {
	w.hook.OnFailure(ctx, event)
}

func (w *BorrowWorker) onRetry(ctx context.Context, event worker.Event) {
	w.hook.OnRetry(ctx, event)
}

func (w *BorrowWorker) emit(ctx context.Context, fn func(context.Context, worker.Event), event worker.Event) {
	if w.hook == nil {
		return
	}
	fn(ctx, event)
}

// MemoryQueue is an in-process FIFO queue for local simulation runs.
// Deduplication follows each message's DedupPolicy through a go-job
// idempotency tracker.
type MemoryQueue struct {
	mu          sync.Mutex
	tracker     *job.IdempotencyTracker
	pending     []*job.ExecutionMessage
	deadLetters []*job.ExecutionMessage
	dispatched  int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tracker: job.NewIdempotencyTracker()}
}

// Enqueue fails with job.ErrIdempotentDrop when the tracker has already
// accepted the message's key under the drop or merge policy.
func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if msg == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	decision, _ := q.tracker.BeforeExecute(strings.TrimSpace(msg.IdempotencyKey), msg.DedupPolicy)
	if decision != 0 {
		return queue.EnqueueReceipt{}, job.ErrIdempotentDrop
	}
	q.dispatched++
	q.pending = append(q.pending, msg)
	return queue.EnqueueReceipt{
		DispatchID: fmt.Sprintf("memory-%d", q.dispatched),
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, ErrQueueEmpty
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return &memoryDelivery{queue: q, msg: msg}, nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

// ErrQueueEmpty is returned by MemoryQueue.Dequeue when nothing is pending.
var ErrQueueEmpty = fmt.Errorf("gojob: queue is empty")

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.tracker.AfterExecute(strings.TrimSpace(d.msg.IdempotencyKey), d.msg.DedupPolicy, nil)
	return nil
}

// Nack ignores the delay: a retried message goes to the back of the queue.
// Failed and canceled messages are discarded.
func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return fmt.Errorf("gojob: %w", err)
	}
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		d.queue.pending = append(d.queue.pending, d.msg)
		return nil
	case queue.NackDispositionDeadLetter:
		d.queue.deadLetters = append(d.queue.deadLetters, d.msg)
	}
	d.queue.tracker.AfterExecute(strings.TrimSpace(d.msg.IdempotencyKey), d.msg.DedupPolicy, errors.New(opts.Reason))
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
