package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"grit-backend/internal/clients"
	"grit-backend/internal/config"
	"grit-backend/internal/events"
	"grit-backend/internal/metrics"
	"grit-backend/internal/models"
	"grit-backend/internal/repository"
)

// RelayStatus is the operator-facing relay view.
type RelayStatus struct {
	Subscribed      bool   `json:"subscribed"`
	Workers         int    `json:"workers"`
	DeadLetters     int64  `json:"dead_letters"`
	LagSeconds      int64  `json:"lag_seconds"`
	LastProcessed   string `json:"last_processed"`
	LastProcessedAt int64  `json:"last_processed_at"`
}

// RelayService moves confirmed deposits from the source ledger onto the
// destination ledger exactly once. Observed events flow through a bounded
// queue into a worker pool; the processed-signature set is the durable
// idempotency barrier and is written only after the destination mint confirms.
type RelayService struct {
	cfg        config.RelayConfig
	sourceCfg  config.SourceChainConfig
	source     clients.SourceLedgerClient
	dest       clients.DestinationLedgerClient
	bridgeRepo repository.BridgeRepository
	market     *MarketService // curve pricing mode only
	publisher  *events.Publisher
	now        func() time.Time

	queue          chan clients.LogEvent
	wg             sync.WaitGroup
	cancel         context.CancelFunc
	subscribed     atomic.Bool
	lastSourceTime atomic.Int64 // block time of the last settled event
}

// NewRelayService creates a new RelayService
func NewRelayService(
	cfg config.RelayConfig,
	sourceCfg config.SourceChainConfig,
	source clients.SourceLedgerClient,
	dest clients.DestinationLedgerClient,
	bridgeRepo repository.BridgeRepository,
) *RelayService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &RelayService{
		cfg:        cfg,
		sourceCfg:  sourceCfg,
		source:     source,
		dest:       dest,
		bridgeRepo: bridgeRepo,
		now:        time.Now,
		queue:      make(chan clients.LogEvent, workers*16),
	}
}

// SetMarketService enables curve pricing mode.
func (s *RelayService) SetMarketService(market *MarketService) {
	s.market = market
}

// SetPublisher sets the NATS publisher for settlement events.
func (s *RelayService) SetPublisher(publisher *events.Publisher) {
	s.publisher = publisher
}

// SetClock overrides the time source. Used by tests.
func (s *RelayService) SetClock(now func() time.Time) {
	s.now = now
}

// Start launches the worker pool and the subscription loop. The initial
// catch-up scan runs before live events are consumed so that restart gaps are
// replayed in ledger order.
func (s *RelayService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.catchUp(ctx); err != nil {
		logrus.WithError(err).Warn("initial catch-up scan failed, continuing with live stream")
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go s.subscriptionLoop(ctx)

	logrus.WithField("workers", s.cfg.Workers).Info("bridge relay started")
	return nil
}

// Stop cancels the subscription and waits for in-flight events to drain.
func (s *RelayService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logrus.Info("bridge relay stopped")
}

// Status reports the current relay state.
func (s *RelayService) Status(ctx context.Context) (*RelayStatus, error) {
	deadLetters, err := s.bridgeRepo.CountDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	status := &RelayStatus{
		Subscribed:  s.subscribed.Load(),
		Workers:     s.cfg.Workers,
		DeadLetters: deadLetters,
	}
	if bt := s.lastSourceTime.Load(); bt > 0 {
		if lag := s.now().Unix() - bt; lag > 0 {
			status.LagSeconds = lag
		}
	}
	if latest, err := s.bridgeRepo.LatestProcessed(ctx); err == nil && latest != nil {
		status.LastProcessed = latest.Signature
		status.LastProcessedAt = latest.ProcessedAt.Unix()
	}
	return status, nil
}

// DeadLetters lists the most recent dead-lettered events.
func (s *RelayService) DeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.bridgeRepo.ListDeadLetters(ctx, limit)
}

// subscriptionLoop keeps a live log subscription open, resubscribing with
// backoff whenever the stream drops and running a catch-up scan to cover the gap.
func (s *RelayService) subscriptionLoop(ctx context.Context) {
	defer s.wg.Done()

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := s.source.SubscribeLogs(ctx, s.sourceCfg.TreasuryPubkey)
		if err != nil {
			logrus.WithError(err).Warn("log subscription failed, retrying")
			metrics.RelaySubscriptionStatus.Set(0)
			if !sleepCtx(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		s.subscribed.Store(true)
		metrics.RelaySubscriptionStatus.Set(1)
		logrus.Info("source log subscription established")

		s.pump(ctx, sub)

		s.subscribed.Store(false)
		metrics.RelaySubscriptionStatus.Set(0)
		if ctx.Err() != nil {
			sub.Close()
			return
		}
		logrus.Warn("source log subscription lost, scanning for missed events")
		if err := s.catchUp(ctx); err != nil {
			logrus.WithError(err).Warn("catch-up scan failed")
		}
	}
}

// pump forwards stream events into the work queue until the stream closes.
func (s *RelayService) pump(ctx context.Context, sub *clients.LogSubscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			s.Enqueue(ctx, ev)
		}
	}
}

// Enqueue hands one observed event to the worker pool.
func (s *RelayService) Enqueue(ctx context.Context, ev clients.LogEvent) {
	metrics.RelayEventsObserved.Inc()
	select {
	case s.queue <- ev:
	case <-ctx.Done():
	}
}

// catchUp scans signature history newest-first down to the last durably
// processed signature and replays the gap oldest-first.
func (s *RelayService) catchUp(ctx context.Context) error {
	latest, err := s.bridgeRepo.LatestProcessed(ctx)
	if err != nil {
		return fmt.Errorf("failed to load watermark: %w", err)
	}
	until := ""
	if latest != nil {
		until = latest.Signature
	}

	limit := s.cfg.CatchupLimit
	if limit <= 0 {
		limit = 1000
	}
	sigs, err := s.source.GetSignaturesForAddress(ctx, s.sourceCfg.TreasuryPubkey, until, limit)
	if err != nil {
		return fmt.Errorf("failed to scan signature history: %w", err)
	}
	if len(sigs) == 0 {
		return nil
	}

	logrus.WithField("count", len(sigs)).Info("replaying missed source events")
	for i := len(sigs) - 1; i >= 0; i-- {
		s.Enqueue(ctx, clients.LogEvent{
			Signature: sigs[i].Signature,
			Slot:      sigs[i].Slot,
			Failed:    sigs[i].Failed,
		})
	}
	return nil
}

func (s *RelayService) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			if err := s.processEvent(ctx, ev); err != nil {
				logrus.WithError(err).WithField("signature", ev.Signature).Error("event processing failed")
			}
		}
	}
}

// processEvent runs one observed event through verify, price, mint and record.
// Every step is safe to repeat: the processed-set check discards redeliveries
// and the reference scan detects mints that landed before a crash.
func (s *RelayService) processEvent(ctx context.Context, ev clients.LogEvent) error {
	if ev.Failed {
		metrics.RelayEventsRejected.WithLabelValues("failed_tx").Inc()
		return nil
	}

	processed, err := s.bridgeRepo.IsProcessed(ctx, ev.Signature)
	if err != nil {
		return fmt.Errorf("processed-set check: %w", err)
	}
	if processed {
		metrics.RelayDuplicatesDiscarded.Inc()
		return nil
	}

	tx, err := s.fetchTransactionWithRetry(ctx, ev.Signature)
	if err != nil {
		return err
	}
	if tx.Failed {
		metrics.RelayEventsRejected.WithLabelValues("failed_tx").Inc()
		return nil
	}

	delta, found := tx.BalanceDelta(s.sourceCfg.TreasuryPubkey)
	if !found || delta <= 0 {
		// treasury account mentioned but not funded: outbound transfer,
		// rent churn or an unrelated instruction
		metrics.RelayEventsRejected.WithLabelValues("no_deposit").Inc()
		return nil
	}
	actor := tx.Sender()
	if actor == "" || actor == s.sourceCfg.TreasuryPubkey {
		metrics.RelayEventsRejected.WithLabelValues("no_sender").Inc()
		return nil
	}

	sourceAmount := uint64(delta)
	destAmount, err := s.priceDeposit(sourceAmount)
	if err != nil {
		metrics.RelayEventsRejected.WithLabelValues("pricing").Inc()
		return fmt.Errorf("deposit pricing: %w", err)
	}

	if existing, err := s.bridgeRepo.FindDepositBySignature(ctx, ev.Signature); err != nil {
		return fmt.Errorf("deposit lookup: %w", err)
	} else if existing == nil {
		if err := s.bridgeRepo.CreateDeposit(ctx, &models.BridgeDeposit{
			Signature:    ev.Signature,
			Actor:        actor,
			SourceAmount: sourceAmount,
			DestAmount:   destAmount,
			Status:       models.BridgeDepositVerified,
			ObservedAt:   s.now().Unix(),
		}); err != nil {
			return fmt.Errorf("deposit record: %w", err)
		}
	}

	txHash, err := s.mintWithRetry(ctx, ev, actor, destAmount)
	if err != nil {
		return err // already dead-lettered or ctx cancelled
	}

	// phase two: only after confirmed settlement does the signature enter the
	// durable processed set. A crash between mint and this write is resolved
	// on replay by the reference scan above.
	commitCtx := context.WithoutCancel(ctx)
	if err := s.bridgeRepo.MarkProcessed(commitCtx, &models.ProcessedSignature{
		Signature:  ev.Signature,
		Actor:      actor,
		Amount:     sourceAmount,
		DestTxHash: txHash,
	}); err != nil {
		return fmt.Errorf("processed-set write: %w", err)
	}
	if err := s.bridgeRepo.UpdateDepositStatus(commitCtx, ev.Signature, models.BridgeDepositRecorded, txHash); err != nil {
		return fmt.Errorf("deposit status update: %w", err)
	}

	metrics.RelayEventsSettled.Inc()
	metrics.RelayLastProcessedTimestamp.Set(float64(s.now().Unix()))
	s.updateLag(tx.BlockTime)
	s.publisher.Publish(events.SubjectDepositSettled, events.DepositSettledEvent{
		Signature:    ev.Signature,
		Actor:        actor,
		SourceAmount: sourceAmount,
		DestAmount:   destAmount,
		DestTxHash:   txHash,
		SettledAt:    s.now().Unix(),
	})

	logrus.WithFields(logrus.Fields{
		"signature":     ev.Signature,
		"actor":         actor,
		"source_amount": sourceAmount,
		"dest_amount":   destAmount,
		"dest_tx":       txHash,
	}).Info("deposit settled")
	return nil
}

// fetchTransactionWithRetry fetches transaction detail with bounded backoff.
// A fetch that keeps failing is never dead-lettered: the transaction may not
// be finalized yet, so the event stays unprocessed and the next catch-up scan
// replays it.
func (s *RelayService) fetchTransactionWithRetry(ctx context.Context, signature string) (*clients.TransactionDetail, error) {
	maxRetries, baseDelay := s.retryPolicy()

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		tx, err := s.source.GetTransaction(ctx, signature)
		if err == nil {
			return tx, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"signature": signature,
			"attempt":   attempt,
		}).Warn("transaction fetch failed")

		if attempt < maxRetries {
			if !sleepCtx(ctx, baseDelay<<(attempt-1)) {
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("transaction fetch for %s exhausted %d attempts: %w", signature, maxRetries, lastErr)
}

// mintWithRetry drives one deposit's destination mint to confirmation with
// bounded exponential backoff. At most one broadcast is in flight per
// signature: the submitted hash is persisted on the deposit record before
// confirmation, and while a receipt is outstanding that hash is re-polled
// rather than replaced. A second transaction is only broadcast once the prior
// one is known mined-and-reverted, so a receipt-poll timeout can never race
// two mints for the same source signature.
func (s *RelayService) mintWithRetry(ctx context.Context, ev clients.LogEvent, actor string, destAmount uint64) (string, error) {
	reference := MintReference(ev.Signature)
	amount := new(big.Int).SetUint64(destAmount)
	maxRetries, baseDelay := s.retryPolicy()

	pending := s.pendingMintHash(ctx, ev.Signature)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if hash, ok, err := s.dest.FindMintByReference(ctx, reference); err == nil && ok {
			logrus.WithFields(logrus.Fields{
				"signature": ev.Signature,
				"dest_tx":   hash,
			}).Info("mint already on destination, skipping submission")
			return hash, nil
		}

		if pending == "" {
			hash, err := s.dest.SubmitMint(ctx, actor, amount, reference)
			if err != nil {
				lastErr = err
			} else {
				pending = hash
				// the hash must survive a crash so a restart re-polls it
				// instead of racing a second nonce
				if uErr := s.bridgeRepo.UpdateDepositStatus(context.WithoutCancel(ctx), ev.Signature, models.BridgeDepositSubmitted, hash); uErr != nil {
					logrus.WithError(uErr).WithField("signature", ev.Signature).Warn("failed to persist submitted mint hash")
				}
			}
		}

		if pending != "" {
			confirmed, cErr := s.dest.Confirm(ctx, pending)
			switch {
			case cErr == nil && confirmed:
				if uErr := s.bridgeRepo.UpdateDepositStatus(ctx, ev.Signature, models.BridgeDepositMinted, pending); uErr != nil {
					logrus.WithError(uErr).Warn("failed to update deposit status after mint")
				}
				return pending, nil
			case cErr == nil:
				// mined and reverted: the nonce is spent, a replacement is safe
				lastErr = fmt.Errorf("mint transaction %s reverted", pending)
				pending = ""
			default:
				// receipt not seen yet; the transaction may still mine
				lastErr = fmt.Errorf("confirmation of %s: %w", pending, cErr)
			}
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logrus.WithError(lastErr).WithFields(logrus.Fields{
			"signature": ev.Signature,
			"attempt":   attempt,
		}).Warn("mint attempt failed")

		if attempt < maxRetries {
			if !sleepCtx(ctx, baseDelay<<(attempt-1)) {
				return "", ctx.Err()
			}
		}
	}

	if pending != "" {
		// the broadcast may still mine, so the event must not be dead-lettered:
		// it stays unprocessed and the stored hash is re-polled on replay
		return "", fmt.Errorf("mint for %s unconfirmed after %d attempts: %w", ev.Signature, maxRetries, lastErr)
	}
	s.deadLetter(ctx, ev, actor, destAmount, maxRetries, lastErr)
	return "", fmt.Errorf("mint for %s exhausted %d attempts: %w", ev.Signature, maxRetries, lastErr)
}

// pendingMintHash returns the destination hash of a broadcast that has not
// been confirmed or ruled out yet, recorded by an earlier attempt or a run
// that crashed mid-confirmation.
func (s *RelayService) pendingMintHash(ctx context.Context, signature string) string {
	deposit, err := s.bridgeRepo.FindDepositBySignature(ctx, signature)
	if err != nil || deposit == nil || deposit.DestTxHash == "" {
		return ""
	}
	switch deposit.Status {
	case models.BridgeDepositSubmitted, models.BridgeDepositMinted:
		return deposit.DestTxHash
	}
	return ""
}

func (s *RelayService) retryPolicy() (int, time.Duration) {
	maxRetries := s.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return maxRetries, time.Duration(s.cfg.RetryBaseDelay) * time.Second
}

func (s *RelayService) deadLetter(ctx context.Context, ev clients.LogEvent, actor string, amount uint64, attempts int, cause error) {
	commitCtx := context.WithoutCancel(ctx)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.bridgeRepo.CreateDeadLetter(commitCtx, &models.DeadLetterEvent{
		Signature: ev.Signature,
		Actor:     actor,
		Amount:    amount,
		Attempts:  attempts,
		LastError: msg,
	}); err != nil {
		logrus.WithError(err).WithField("signature", ev.Signature).Error("failed to record dead letter")
		return
	}
	if count, err := s.bridgeRepo.CountDeadLetters(commitCtx); err == nil {
		metrics.RelayDeadLetters.Set(float64(count))
	}
	logrus.WithFields(logrus.Fields{
		"signature": ev.Signature,
		"error":     msg,
	}).Error("event dead-lettered")
}

// priceDeposit converts source lamports to destination token base units.
func (s *RelayService) priceDeposit(lamports uint64) (uint64, error) {
	if s.cfg.PricingMode == "curve" && s.market != nil {
		return s.market.TokensForDeposit(lamports)
	}
	v := new(uint256.Int).Mul(uint256.NewInt(lamports), uint256.NewInt(s.cfg.ExchangeRate))
	if !v.IsUint64() {
		return 0, fmt.Errorf("deposit of %d lamports overflows at rate %d", lamports, s.cfg.ExchangeRate)
	}
	return v.Uint64(), nil
}

func (s *RelayService) updateLag(blockTime int64) {
	if blockTime <= 0 {
		return
	}
	s.lastSourceTime.Store(blockTime)
	lag := s.now().Unix() - blockTime
	if lag < 0 {
		lag = 0
	}
	metrics.RelayLagSeconds.Set(float64(lag))
}

// MintReference derives the 32-byte reference carried in the destination mint
// call from the source signature.
func MintReference(signature string) [32]byte {
	var ref [32]byte
	copy(ref[:], crypto.Keccak256([]byte(signature)))
	return ref
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
