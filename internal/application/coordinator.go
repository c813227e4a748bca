package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"txqueue/internal/domain"
	"txqueue/internal/provider"
	"txqueue/internal/txqueue"
)

// ErrReverted fails a parcel whose transaction was mined with status 0.
var ErrReverted = errors.New("transaction reverted")

type CoordinatorConfig struct {
	Confirmations  uint64
	ConfirmTimeout time.Duration
	// ManualBroadcast leaves SIGNED parcels for the caller to Send.
	ManualBroadcast bool
}

type CoordinatorDeps struct {
	Queue     *txqueue.Queue
	Chain     ChainReader
	Signer    Signer
	Sink      ReceiptSink
	Publisher TransitionPublisher
	Observer  CoordinatorObserver
	Logger    *slog.Logger
}

// Coordinator drives a queue from its events: it fills in nonce and gas,
// signs when it has a signer, broadcasts, records pending receipts and
// watches for confirmation. Each event is handled once, in commit order.
type Coordinator struct {
	queue     *txqueue.Queue
	chain     ChainReader
	signer    Signer
	sink      ReceiptSink
	publisher TransitionPublisher
	observer  CoordinatorObserver
	logger    *slog.Logger
	cfg       CoordinatorConfig

	sub  *txqueue.Subscription
	errs chan error

	mu          sync.Mutex
	runCtx      context.Context
	watchCancel context.CancelFunc
	watchers    sync.WaitGroup
}

func NewCoordinator(deps CoordinatorDeps, cfg CoordinatorConfig) (*Coordinator, error) {
	if deps.Queue == nil || deps.Chain == nil {
		return nil, errors.New("coordinator dependencies must not be nil")
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		queue:     deps.Queue,
		chain:     deps.Chain,
		signer:    deps.Signer,
		sink:      deps.Sink,
		publisher: deps.Publisher,
		observer:  deps.Observer,
		logger:    logger,
		cfg:       cfg,
		// Subscribe now so nothing committed before Run is missed.
		sub:  deps.Queue.Subscribe(),
		errs: make(chan error, 16),
	}, nil
}

// Errors reports failures that do not fail a parcel, such as a
// confirmation timeout or a sink that could not record a receipt.
func (c *Coordinator) Errors() <-chan error {
	return c.errs
}

func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
	defer func() {
		c.sub.Close()
		c.stopWatch()
		c.watchers.Wait()
	}()

	for {
		ev, err := c.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, txqueue.ErrSubscriptionClosed) {
				return nil
			}
			return err
		}
		c.handle(ctx, ev)
	}
}

func (c *Coordinator) handle(ctx context.Context, ev txqueue.Event) {
	if ev.Type == txqueue.EventTransition {
		c.publish(ctx, ev)
		if c.observer != nil {
			c.observer.OnTransition(string(ev.From), string(ev.To))
		}
	}

	switch ev.Type {
	case txqueue.EventReset:
		c.stopWatch()
		return
	case txqueue.EventResumed:
		c.advanceIfConfirmed()
		return
	case txqueue.EventCompleted:
		c.logger.InfoContext(ctx, "queue completed")
		return
	case txqueue.EventSeedFailed:
		c.report(fmt.Errorf("seed: %w", ev.Err))
		return
	case txqueue.EventTransition:
	default:
		return
	}

	parcel, ok := c.live(ev)
	if !ok {
		return
	}
	switch ev.To {
	case txqueue.StatusPreparing:
		c.prepare(ctx, ev, parcel)
	case txqueue.StatusReadyToSign:
		c.sign(ctx, parcel)
	case txqueue.StatusSigned:
		if !c.cfg.ManualBroadcast {
			// A failed send is committed by the queue itself.
			if _, err := c.queue.Send(ctx); err != nil {
				c.logger.WarnContext(ctx, "broadcast failed", "parcel_id", parcel.ID, "error", err)
			}
		}
	case txqueue.StatusBroadcasted:
		c.recordPending(ctx, ev, parcel)
		c.watch(parcel)
	case txqueue.StatusConfirmed:
		c.advanceIfConfirmed()
	case txqueue.StatusFailed:
		c.markStatus(ctx, ev.Account, parcel.Hash, domain.ReceiptFailed)
	}
}

// live returns the current parcel if the event still describes it. Events
// are handled after the fact, so the queue may have moved on.
func (c *Coordinator) live(ev txqueue.Event) (txqueue.Parcel, bool) {
	current, ok := c.queue.Current()
	if !ok || current.ID != ev.ParcelID || current.Status != ev.To {
		c.logger.Debug("skipping stale event", "seq", ev.Seq, "parcel_id", ev.ParcelID, "to", ev.To)
		return txqueue.Parcel{}, false
	}
	return current, true
}

func (c *Coordinator) prepare(ctx context.Context, ev txqueue.Event, parcel txqueue.Parcel) {
	tx, err := c.fill(ctx, ev, parcel.Intent)
	if err != nil {
		c.fail(fmt.Errorf("prepare: %w", err))
		return
	}
	if err := c.queue.Prepare(tx); err != nil {
		c.logger.Debug("prepare not applied", "parcel_id", parcel.ID, "error", err)
	}
}

func (c *Coordinator) fill(ctx context.Context, ev txqueue.Event, tx domain.TxRequest) (domain.TxRequest, error) {
	if tx.From == "" {
		switch {
		case ev.Account != nil:
			tx.From = ev.Account.Address
		case c.signer != nil:
			tx.From = c.signer.Address()
		}
	}
	if tx.ChainID == 0 {
		tx.ChainID = ev.ChainID
	}
	if tx.Nonce == nil {
		nonce, err := c.chain.GetTransactionCount(ctx, tx.From)
		if err != nil {
			return tx, fmt.Errorf("nonce: %w", err)
		}
		tx.Nonce = &nonce
	}
	if tx.GasPrice == "" {
		price, err := c.chain.GetGasPrice(ctx)
		if err != nil {
			return tx, fmt.Errorf("gas price: %w", err)
		}
		tx.GasPrice = price.String()
	}
	if tx.Gas == "" {
		gas, err := c.chain.EstimateGas(ctx, tx)
		if err != nil {
			return tx, fmt.Errorf("estimate gas: %w", err)
		}
		tx.Gas = gas
	}
	return tx, nil
}

func (c *Coordinator) sign(ctx context.Context, parcel txqueue.Parcel) {
	if c.signer == nil || parcel.Raw == nil {
		return
	}
	if err := c.queue.MarkSigning(); err != nil {
		c.logger.Debug("mark signing not applied", "parcel_id", parcel.ID, "error", err)
		return
	}
	signed, err := c.signer.Sign(ctx, *parcel.Raw)
	if err != nil {
		c.fail(fmt.Errorf("sign: %w", err))
		return
	}
	if err := c.queue.MarkSigned(signed); err != nil {
		c.fail(fmt.Errorf("sign: %w", err))
	}
}

func (c *Coordinator) recordPending(ctx context.Context, ev txqueue.Event, parcel txqueue.Parcel) {
	if c.sink == nil || ev.Account == nil {
		return
	}
	receipt := NewPendingReceipt(*ev.Account, ev.ChainID, parcel, ev.At)
	err := c.sink.AddPendingReceipt(ctx, *ev.Account, receipt)
	if c.observer != nil {
		c.observer.OnPendingReceipt(err)
	}
	if err != nil {
		c.report(fmt.Errorf("record pending receipt %s: %w", receipt.TxHash, err))
		return
	}
	c.logger.InfoContext(ctx, "pending receipt recorded", "account", receipt.Account, "tx_hash", receipt.TxHash, "uuid", receipt.UUID)
}

func (c *Coordinator) markStatus(ctx context.Context, account *domain.Account, txHash string, status domain.ReceiptStatus) {
	updater, ok := c.sink.(ReceiptStatusSink)
	if !ok || txHash == "" || account == nil {
		return
	}
	if err := updater.MarkReceiptStatus(ctx, *account, txHash, status); err != nil {
		c.report(fmt.Errorf("mark receipt %s %s: %w", txHash, status, err))
	}
}

// Rewatch restarts confirmation polling for the broadcast parcel, typically
// after a confirmation timeout was reported.
func (c *Coordinator) Rewatch() error {
	current, ok := c.queue.Current()
	if !ok || current.Status != txqueue.StatusBroadcasted {
		return fmt.Errorf("%w: rewatch: no broadcast parcel", txqueue.ErrInvalidTransition)
	}
	c.watch(current)
	return nil
}

func (c *Coordinator) watch(parcel txqueue.Parcel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx == nil {
		return
	}
	if c.watchCancel != nil {
		c.watchCancel()
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.watchCancel = cancel
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()
		defer cancel()
		c.await(ctx, parcel)
	}()
}

func (c *Coordinator) stopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
}

func (c *Coordinator) await(ctx context.Context, parcel txqueue.Parcel) {
	start := time.Now()
	receipt, err := c.chain.WaitForTransaction(ctx, parcel.Hash, c.cfg.Confirmations, c.cfg.ConfirmTimeout)
	switch {
	case ctx.Err() != nil:
		return
	case errors.Is(err, provider.ErrConfirmationTimeout):
		c.logger.Warn("confirmation timed out", "parcel_id", parcel.ID, "tx_hash", parcel.Hash, "timeout", c.cfg.ConfirmTimeout)
		c.report(err)
		return
	case err != nil:
		c.report(fmt.Errorf("wait for %s: %w", parcel.Hash, err))
		return
	}

	if !receipt.Succeeded() {
		if err := c.queue.Fail(fmt.Errorf("%w: %s in block %d", ErrReverted, parcel.Hash, receipt.BlockNumber)); err != nil {
			c.logger.Debug("fail not applied", "parcel_id", parcel.ID, "error", err)
		}
		return
	}
	if c.observer != nil {
		c.observer.OnConfirmed(time.Since(start))
	}
	if err := c.queue.Confirm(*receipt); err != nil {
		c.logger.Debug("confirm not applied", "parcel_id", parcel.ID, "error", err)
		return
	}
	if account, ok := c.queue.Account(); ok {
		c.markStatus(ctx, &account, parcel.Hash, domain.ReceiptSuccess)
	}
}

func (c *Coordinator) advanceIfConfirmed() {
	current, ok := c.queue.Current()
	if !ok || current.Status != txqueue.StatusConfirmed || c.queue.Yielded() {
		return
	}
	if err := c.queue.Advance(); err != nil {
		c.logger.Debug("advance not applied", "error", err)
	}
}

func (c *Coordinator) fail(err error) {
	if ferr := c.queue.Fail(err); ferr != nil {
		c.logger.Debug("fail not applied", "error", ferr, "cause", err)
	}
}

func (c *Coordinator) report(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Error("coordinator error dropped", "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, ev txqueue.Event) {
	if c.publisher == nil {
		return
	}
	transition := domain.Transition{
		ChainID:  ev.ChainID,
		ParcelID: ev.ParcelID,
		Index:    ev.Index,
		From:     string(ev.From),
		To:       string(ev.To),
		At:       ev.At,
	}
	if ev.Account != nil {
		transition.Account = strings.ToLower(ev.Account.Address)
	}
	if ev.Parcel != nil {
		transition.Kind = ev.Parcel.Kind
		transition.TxHash = ev.Parcel.Hash
	}
	if ev.Err != nil {
		transition.Error = ev.Err.Error()
	}
	if err := c.publisher.PublishTransition(ctx, transition); err != nil {
		c.logger.WarnContext(ctx, "publish transition failed", "seq", ev.Seq, "error", err)
	}
}
