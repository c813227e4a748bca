// Package txqueue sequences a batch of transactions from one account so that
// each one is prepared, signed, broadcast and confirmed before the next is
// started.
package txqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"txqueue/internal/domain"
)

// NoCursor marks a queue with no parcel in flight.
const NoCursor = -1

// Broadcaster puts signed transactions on the network.
type Broadcaster interface {
	SendRawTx(ctx context.Context, signed string) (*domain.TxResponse, error)
	GetTransactionByHash(ctx context.Context, hash string, race bool) (*domain.TxResponse, error)
}

// Producer supplies the intents for SeedDeferred.
type Producer func(ctx context.Context) ([]Intent, error)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseSeeding  Phase = "seeding"
	PhaseRunning  Phase = "running"
	PhaseFailed   Phase = "failed"
	PhaseComplete Phase = "complete"
)

// State is a point-in-time copy of the queue.
type State struct {
	Phase     Phase           `json:"phase"`
	Cursor    int             `json:"cursor"`
	Parcels   []Parcel        `json:"parcels"`
	Account   *domain.Account `json:"account,omitempty"`
	ChainID   uint64          `json:"chain_id,omitempty"`
	Network   string          `json:"network,omitempty"`
	Yielded   bool            `json:"yielded"`
	SeedError string          `json:"seed_error,omitempty"`
}

// Queue owns the parcel sequence. Every mutation goes through one of its
// methods; a call that does not match the current state fails with
// ErrInvalidTransition and changes nothing.
type Queue struct {
	mu          sync.Mutex
	publishMu   sync.Mutex
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time

	parcels   []Parcel
	cursor    int
	account   *domain.Account
	network   *domain.Network
	yielded   bool
	seeding   bool
	seedError string
	epoch     uint64
	seq       uint64
	staged    []Event

	subs    map[uint64]*Subscription
	nextSub uint64
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithClock sets the source of event timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(broadcaster Broadcaster, opts ...Option) *Queue {
	q := &Queue{
		broadcaster: broadcaster,
		logger:      slog.Default(),
		now:         time.Now,
		cursor:      NoCursor,
		subs:        make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Subscribe returns a mailbox that receives every event committed after
// the call.
func (q *Queue) Subscribe() *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSub
	q.nextSub++
	sub := newSubscription(func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	})
	q.subs[id] = sub
	return sub
}

// update runs fn under the state lock. Events staged by fn are delivered
// after the lock is released, in commit order.
func (q *Queue) update(fn func() error) error {
	q.mu.Lock()
	q.staged = nil
	if err := fn(); err != nil {
		q.staged = nil
		q.mu.Unlock()
		return err
	}
	events := q.staged
	q.staged = nil
	if len(events) == 0 {
		q.mu.Unlock()
		return nil
	}
	subs := make([]*Subscription, 0, len(q.subs))
	for _, sub := range q.subs {
		subs = append(subs, sub)
	}
	q.publishMu.Lock()
	q.mu.Unlock()
	defer q.publishMu.Unlock()
	for _, sub := range subs {
		sub.deliver(events)
	}
	return nil
}

func (q *Queue) stage(typ EventType, index int, from, to Status, err error) {
	q.seq++
	ev := Event{Seq: q.seq, Type: typ, Index: index, From: from, To: to, Err: err, At: q.now()}
	if index >= 0 {
		parcel := q.parcels[index].clone()
		ev.Parcel = &parcel
		ev.ParcelID = parcel.ID
	}
	if q.account != nil {
		account := *q.account
		ev.Account = &account
	}
	if q.network != nil {
		ev.ChainID = q.network.ChainID
	}
	q.staged = append(q.staged, ev)
}

func (q *Queue) move(index int, to Status, err error) {
	p := &q.parcels[index]
	from := p.Status
	p.Status = to
	if err != nil {
		p.err = err
		p.Error = err.Error()
		q.logger.Warn("parcel failed", "index", index, "parcel_id", p.ID, "from", from, "error", err)
	} else {
		q.logger.Debug("parcel transition", "index", index, "parcel_id", p.ID, "from", from, "to", to)
	}
	q.stage(EventTransition, index, from, to, err)
}

func (q *Queue) current(op string, want Status) (*Parcel, error) {
	if q.cursor == NoCursor {
		return nil, transitionError(op, "no parcel in flight")
	}
	p := &q.parcels[q.cursor]
	if p.Status != want {
		return nil, transitionError(op, "parcel %d is %s, want %s", q.cursor, p.Status, want)
	}
	return p, nil
}

func (q *Queue) idle() bool {
	return !q.seeding && len(q.parcels) == 0
}

// Seed loads intents and starts the first one. It is only valid on an idle
// queue; a completed queue keeps its history until Reset.
func (q *Queue) Seed(intents []Intent, account domain.Account, network domain.Network) error {
	if len(intents) == 0 {
		return fmt.Errorf("%w: no transactions", ErrInvalidSeed)
	}
	return q.update(func() error {
		if !q.idle() {
			return transitionError("seed", "queue is not idle")
		}
		q.install(intents, account, network)
		return nil
	})
}

func (q *Queue) install(intents []Intent, account domain.Account, network domain.Network) {
	q.parcels = make([]Parcel, len(intents))
	for i, in := range intents {
		q.parcels[i] = Parcel{ID: uuid.NewString(), Kind: in.Kind, Intent: in.Tx, Status: StatusIdle}
	}
	q.account = &account
	q.network = &network
	q.cursor = 0
	q.yielded = false
	q.seedError = ""
	q.parcels[0].Attempts = 1
	q.logger.Info("queue seeded", "account", account.Address, "chain_id", network.ChainID, "parcels", len(intents))
	q.move(0, StatusPreparing, nil)
}

// SeedDeferred reserves the queue and seeds it once produce returns. Until
// then the queue reports PhaseSeeding and accepts no other seed. A failed
// producer returns the queue to idle and emits EventSeedFailed.
func (q *Queue) SeedDeferred(ctx context.Context, produce Producer, account domain.Account, network domain.Network) error {
	var epoch uint64
	err := q.update(func() error {
		if !q.idle() {
			return transitionError("seed", "queue is not idle")
		}
		q.seeding = true
		q.seedError = ""
		q.account = &account
		q.network = &network
		epoch = q.epoch
		q.stage(EventSeeding, NoCursor, "", "", nil)
		return nil
	})
	if err != nil {
		return err
	}
	go q.finishSeed(ctx, epoch, produce, account, network)
	return nil
}

func (q *Queue) finishSeed(ctx context.Context, epoch uint64, produce Producer, account domain.Account, network domain.Network) {
	intents, err := produce(ctx)
	if err == nil && len(intents) == 0 {
		err = fmt.Errorf("%w: producer returned no transactions", ErrInvalidSeed)
	}
	commitErr := q.update(func() error {
		if q.epoch != epoch || !q.seeding {
			return ErrQueueReset
		}
		q.seeding = false
		if err != nil {
			q.seedError = err.Error()
			q.stage(EventSeedFailed, NoCursor, "", StatusIdle, err)
			q.account = nil
			q.network = nil
			return nil
		}
		q.install(intents, account, network)
		return nil
	})
	if commitErr != nil {
		q.logger.Info("discarding deferred seed", "error", commitErr)
	}
}

// Prepare stores the unsigned transaction for the parcel in flight.
func (q *Queue) Prepare(raw domain.TxRequest) error {
	return q.update(func() error {
		p, err := q.current("prepare", StatusPreparing)
		if err != nil {
			return err
		}
		p.Raw = &raw
		q.move(q.cursor, StatusReadyToSign, nil)
		return nil
	})
}

func (q *Queue) MarkSigning() error {
	return q.update(func() error {
		if _, err := q.current("mark signing", StatusReadyToSign); err != nil {
			return err
		}
		q.move(q.cursor, StatusSigning, nil)
		return nil
	})
}

// MarkSigned records the signer's output. A hash instead of a payload means
// the signer broadcast the transaction itself.
func (q *Queue) MarkSigned(signed Signed) error {
	if err := signed.validate(); err != nil {
		return transitionError("mark signed", "%v", err)
	}
	return q.update(func() error {
		p, err := q.current("mark signed", StatusSigning)
		if err != nil {
			return err
		}
		p.Signed = &signed
		q.move(q.cursor, StatusSigned, nil)
		return nil
	})
}

// Send broadcasts the signed parcel. The parcel is BROADCASTING while the
// network call runs without the lock held; the outcome is committed as
// BROADCASTED or FAILED. A reset during the call discards the outcome.
func (q *Queue) Send(ctx context.Context) (*domain.TxResponse, error) {
	var (
		signed Signed
		epoch  uint64
		index  int
	)
	err := q.update(func() error {
		p, err := q.current("send", StatusSigned)
		if err != nil {
			return err
		}
		signed = *p.Signed
		epoch = q.epoch
		index = q.cursor
		q.move(index, StatusBroadcasting, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("txqueue/queue").Start(ctx, "queue.send")
	span.SetAttributes(attribute.Int("parcel.index", index), attribute.Bool("signed.broadcast", signed.Broadcast()))
	defer span.End()

	var resp *domain.TxResponse
	if signed.Broadcast() {
		resp, err = q.broadcaster.GetTransactionByHash(ctx, signed.Hash, true)
	} else {
		resp, err = q.broadcaster.SendRawTx(ctx, signed.Payload)
	}
	if err == nil && resp == nil {
		err = errors.New("broadcast returned no transaction")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	commitErr := q.update(func() error {
		if q.epoch != epoch {
			return ErrQueueReset
		}
		p := &q.parcels[index]
		if p.Status != StatusBroadcasting {
			return transitionError("send", "parcel %d moved to %s during broadcast", index, p.Status)
		}
		if err != nil {
			q.move(index, StatusFailed, err)
			return nil
		}
		p.Response = resp
		p.Hash = strings.ToLower(resp.Hash)
		if p.Hash == "" {
			p.Hash = signed.Hash
		}
		q.move(index, StatusBroadcasted, nil)
		return nil
	})
	if commitErr != nil {
		return nil, commitErr
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Confirm records a successful receipt for the broadcast parcel.
func (q *Queue) Confirm(receipt domain.Receipt) error {
	return q.update(func() error {
		p, err := q.current("confirm", StatusBroadcasted)
		if err != nil {
			return err
		}
		if !receipt.Succeeded() {
			return transitionError("confirm", "receipt for %s reports failure", receipt.TxHash)
		}
		if receipt.TxHash != "" && !strings.EqualFold(receipt.TxHash, p.Hash) {
			return transitionError("confirm", "receipt is for %s, parcel %d is %s", receipt.TxHash, q.cursor, p.Hash)
		}
		p.Receipt = &receipt
		q.move(q.cursor, StatusConfirmed, nil)
		return nil
	})
}

// Fail halts the queue on the parcel in flight.
func (q *Queue) Fail(cause error) error {
	if cause == nil {
		return transitionError("fail", "nil error")
	}
	return q.update(func() error {
		if q.cursor == NoCursor {
			return transitionError("fail", "no parcel in flight")
		}
		if status := q.parcels[q.cursor].Status; !status.Active() {
			return transitionError("fail", "parcel %d is %s", q.cursor, status)
		}
		q.move(q.cursor, StatusFailed, cause)
		return nil
	})
}

// Retry restarts a failed parcel from PREPARING with its original intent.
func (q *Queue) Retry() error {
	return q.update(func() error {
		p, err := q.current("retry", StatusFailed)
		if err != nil {
			return err
		}
		p.clearArtifacts()
		p.Attempts++
		q.move(q.cursor, StatusPreparing, nil)
		return nil
	})
}

// Advance moves past a confirmed parcel. The next parcel starts PREPARING;
// after the last one the queue is complete and keeps its history.
func (q *Queue) Advance() error {
	return q.update(func() error {
		if _, err := q.current("advance", StatusConfirmed); err != nil {
			return err
		}
		if q.yielded {
			return transitionError("advance", "queue is yielded")
		}
		next := q.cursor + 1
		if next >= len(q.parcels) {
			q.cursor = NoCursor
			q.logger.Info("queue complete", "parcels", len(q.parcels))
			q.stage(EventCompleted, NoCursor, "", "", nil)
			return nil
		}
		q.cursor = next
		q.parcels[next].Attempts = 1
		q.move(next, StatusPreparing, nil)
		return nil
	})
}

// StopYield pauses the queue before its next advance. The parcel in flight
// is left alone.
func (q *Queue) StopYield() error {
	return q.update(func() error {
		if q.cursor == NoCursor {
			return transitionError("stop yield", "no parcel in flight")
		}
		if q.yielded {
			return nil
		}
		q.yielded = true
		q.stage(EventYielded, NoCursor, "", "", nil)
		return nil
	})
}

func (q *Queue) Resume() error {
	return q.update(func() error {
		if !q.yielded {
			return nil
		}
		q.yielded = false
		q.stage(EventResumed, NoCursor, "", "", nil)
		return nil
	})
}

// Reset discards every parcel and the account and network association.
// Resetting an idle queue is a no-op.
func (q *Queue) Reset() {
	_ = q.update(func() error {
		if q.idle() && q.account == nil && q.seedError == "" {
			return nil
		}
		q.stage(EventReset, NoCursor, "", StatusIdle, nil)
		q.parcels = nil
		q.cursor = NoCursor
		q.account = nil
		q.network = nil
		q.yielded = false
		q.seeding = false
		q.seedError = ""
		q.epoch++
		q.logger.Info("queue reset")
		return nil
	})
}

func (q *Queue) Snapshot() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	state := State{
		Phase:     q.phase(),
		Cursor:    q.cursor,
		Parcels:   make([]Parcel, len(q.parcels)),
		Yielded:   q.yielded,
		SeedError: q.seedError,
	}
	for i, p := range q.parcels {
		state.Parcels[i] = p.clone()
	}
	if q.account != nil {
		account := *q.account
		state.Account = &account
	}
	if q.network != nil {
		state.ChainID = q.network.ChainID
		state.Network = q.network.Name
	}
	return state
}

func (q *Queue) phase() Phase {
	switch {
	case q.seeding:
		return PhaseSeeding
	case len(q.parcels) == 0:
		return PhaseIdle
	case q.cursor == NoCursor:
		return PhaseComplete
	case q.parcels[q.cursor].Status == StatusFailed:
		return PhaseFailed
	}
	return PhaseRunning
}

// Current returns the parcel in flight.
func (q *Queue) Current() (Parcel, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor == NoCursor {
		return Parcel{}, false
	}
	return q.parcels[q.cursor].clone(), true
}

// Status returns the status of the parcel at index.
func (q *Queue) Status(index int) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.parcels) {
		return "", false
	}
	return q.parcels[index].Status, true
}

func (q *Queue) Yielded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.yielded
}

// Account returns the account the queue is bound to.
func (q *Queue) Account() (domain.Account, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.account == nil {
		return domain.Account{}, false
	}
	return *q.account, true
}
