package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"grit-backend/internal/clients"
	"grit-backend/internal/models"
	"grit-backend/internal/repository"
)

// In-memory repository and client fakes shared by the service tests.

type fakeScarRepo struct {
	mu    sync.Mutex
	scars []models.Scar
}

func (r *fakeScarRepo) Create(_ context.Context, scar *models.Scar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scar.ID = uint64(len(r.scars) + 1)
	r.scars = append(r.scars, *scar)
	return nil
}

func (r *fakeScarRepo) FindByActor(_ context.Context, actor string) ([]models.Scar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Scar
	for _, s := range r.scars {
		if s.Actor == actor {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeScarRepo) CountByActor(ctx context.Context, actor string) (int64, error) {
	scars, _ := r.FindByActor(ctx, actor)
	return int64(len(scars)), nil
}

type fakeStakeRepo struct {
	mu        sync.Mutex
	positions []models.StakePosition
}

func (r *fakeStakeRepo) Open(_ context.Context, position *models.StakePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.positions {
		if p.Actor == position.Actor && p.Status == models.StakeStatusActive {
			return repository.ErrActiveStakeExists
		}
	}
	position.ID = uint64(len(r.positions) + 1)
	r.positions = append(r.positions, *position)
	return nil
}

func (r *fakeStakeRepo) FindActiveByActor(_ context.Context, actor string) (*models.StakePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.positions {
		if r.positions[i].Actor == actor && r.positions[i].Status == models.StakeStatusActive {
			p := r.positions[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (r *fakeStakeRepo) MarkWithdrawn(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.positions {
		if r.positions[i].ID == id {
			now := time.Now()
			r.positions[i].Status = models.StakeStatusWithdrawn
			r.positions[i].WithdrawnAt = &now
		}
	}
	return nil
}

type fakeAttributeRepo struct {
	mu        sync.Mutex
	resonance map[string]uint64
}

func newFakeAttributeRepo() *fakeAttributeRepo {
	return &fakeAttributeRepo{resonance: make(map[string]uint64)}
}

func (r *fakeAttributeRepo) Get(_ context.Context, actor string) (*models.ParticipantAttribute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &models.ParticipantAttribute{Actor: actor, Resonance: r.resonance[actor]}, nil
}

func (r *fakeAttributeRepo) AddResonance(_ context.Context, actor string, delta uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resonance[actor] += delta
	return nil
}

type fakeWithdrawalRepo struct {
	mu          sync.Mutex
	entries     []models.WithdrawalLedgerEntry
	counter     models.WithdrawDayCounter
	actorStates map[string]models.ActorWithdrawState
	appendErr   error
}

func newFakeWithdrawalRepo() *fakeWithdrawalRepo {
	return &fakeWithdrawalRepo{
		counter:     models.WithdrawDayCounter{ID: 1},
		actorStates: make(map[string]models.ActorWithdrawState),
	}
}

func (r *fakeWithdrawalRepo) AppendEntry(_ context.Context, entry *models.WithdrawalLedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeWithdrawalRepo) FindEntriesByActor(_ context.Context, actor string, limit int) ([]models.WithdrawalLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WithdrawalLedgerEntry
	for _, e := range r.entries {
		if e.Actor == actor {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeWithdrawalRepo) GetDayCounter(_ context.Context) (*models.WithdrawDayCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counter
	return &c, nil
}

func (r *fakeWithdrawalRepo) SaveDayCounter(_ context.Context, counter *models.WithdrawDayCounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter = *counter
	return nil
}

func (r *fakeWithdrawalRepo) GetActorState(_ context.Context, actor string) (*models.ActorWithdrawState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.actorStates[actor]; ok {
		state := s
		return &state, nil
	}
	return &models.ActorWithdrawState{Actor: actor}, nil
}

func (r *fakeWithdrawalRepo) SaveActorState(_ context.Context, state *models.ActorWithdrawState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actorStates[state.Actor] = *state
	return nil
}

type fakeBridgeRepo struct {
	mu          sync.Mutex
	processed   map[string]models.ProcessedSignature
	deposits    map[string]models.BridgeDeposit
	deadLetters []models.DeadLetterEvent
}

func newFakeBridgeRepo() *fakeBridgeRepo {
	return &fakeBridgeRepo{
		processed: make(map[string]models.ProcessedSignature),
		deposits:  make(map[string]models.BridgeDeposit),
	}
}

func (r *fakeBridgeRepo) IsProcessed(_ context.Context, signature string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.processed[signature]
	return ok, nil
}

func (r *fakeBridgeRepo) MarkProcessed(_ context.Context, record *models.ProcessedSignature) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processed[record.Signature]; ok {
		return fmt.Errorf("duplicate signature %s", record.Signature)
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}
	r.processed[record.Signature] = *record
	return nil
}

func (r *fakeBridgeRepo) LatestProcessed(_ context.Context) (*models.ProcessedSignature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.ProcessedSignature
	for sig := range r.processed {
		rec := r.processed[sig]
		if latest == nil || rec.ProcessedAt.After(latest.ProcessedAt) {
			latest = &rec
		}
	}
	return latest, nil
}

func (r *fakeBridgeRepo) CreateDeposit(_ context.Context, deposit *models.BridgeDeposit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deposits[deposit.Signature] = *deposit
	return nil
}

func (r *fakeBridgeRepo) UpdateDepositStatus(_ context.Context, signature string, status models.BridgeDepositStatus, destTxHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deposits[signature]
	if !ok {
		return nil
	}
	d.Status = status
	if destTxHash != "" {
		d.DestTxHash = destTxHash
	}
	r.deposits[signature] = d
	return nil
}

func (r *fakeBridgeRepo) FindDepositBySignature(_ context.Context, signature string) (*models.BridgeDeposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deposits[signature]; ok {
		return &d, nil
	}
	return nil, nil
}

func (r *fakeBridgeRepo) CreateDeadLetter(_ context.Context, event *models.DeadLetterEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetters = append(r.deadLetters, *event)
	return nil
}

func (r *fakeBridgeRepo) CountDeadLetters(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.deadLetters)), nil
}

func (r *fakeBridgeRepo) ListDeadLetters(_ context.Context, limit int) ([]models.DeadLetterEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.DeadLetterEvent, len(r.deadLetters))
	copy(out, r.deadLetters)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeCurveRepo struct {
	mu     sync.Mutex
	state  *models.CurveStateRecord
	trades []models.TradeRecord
}

func (r *fakeCurveRepo) Load(_ context.Context) (*models.CurveStateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return nil, nil
	}
	s := *r.state
	return &s, nil
}

func (r *fakeCurveRepo) Save(_ context.Context, state *models.CurveStateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *state
	r.state = &s
	return nil
}

func (r *fakeCurveRepo) AppendTrade(_ context.Context, trade *models.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	trade.ID = uint64(len(r.trades) + 1)
	r.trades = append(r.trades, *trade)
	return nil
}

func (r *fakeCurveRepo) FindTradesSince(_ context.Context, since int64) ([]models.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TradeRecord
	for _, t := range r.trades {
		if t.Timestamp > since {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeSourceClient struct {
	mu      sync.Mutex
	txs     map[string]*clients.TransactionDetail
	history []clients.SignatureInfo
	balance uint64
	txErr   error
	txCalls int
}

func newFakeSourceClient() *fakeSourceClient {
	return &fakeSourceClient{txs: make(map[string]*clients.TransactionDetail)}
}

func (c *fakeSourceClient) GetTransaction(_ context.Context, signature string) (*clients.TransactionDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txCalls++
	if c.txErr != nil {
		return nil, c.txErr
	}
	tx, ok := c.txs[signature]
	if !ok {
		return nil, fmt.Errorf("transaction %s not yet confirmed", signature)
	}
	return tx, nil
}

func (c *fakeSourceClient) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txCalls
}

func (c *fakeSourceClient) GetBalance(_ context.Context, _ string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

func (c *fakeSourceClient) GetSignaturesForAddress(_ context.Context, _, until string, limit int) ([]clients.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []clients.SignatureInfo
	for _, info := range c.history { // newest first, like the RPC
		if info.Signature == until {
			break
		}
		out = append(out, info)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *fakeSourceClient) SubscribeLogs(_ context.Context, _ string) (*clients.LogSubscription, error) {
	ch := make(chan clients.LogEvent)
	return &clients.LogSubscription{Events: ch}, nil
}

type fakeDestClient struct {
	mu          sync.Mutex
	mints       map[[32]byte]string // mined Minted logs by reference
	submits     int
	submitFails int   // first N submissions fail
	confirmOK   bool  // receipt status when one is found
	confirmErr  error // returned while the receipt is outstanding
}

func newFakeDestClient() *fakeDestClient {
	return &fakeDestClient{mints: make(map[[32]byte]string), confirmOK: true}
}

func (c *fakeDestClient) SubmitMint(_ context.Context, _ string, _ *big.Int, reference [32]byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	if c.submits <= c.submitFails {
		return "", fmt.Errorf("destination rpc unavailable")
	}
	hash := fmt.Sprintf("0xmint%d", c.submits)
	if c.confirmErr == nil && c.confirmOK {
		// a Minted log only exists once the transaction mines successfully
		c.mints[reference] = hash
	}
	return hash, nil
}

func (c *fakeDestClient) Confirm(_ context.Context, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmErr != nil {
		return false, c.confirmErr
	}
	return c.confirmOK, nil
}

func (c *fakeDestClient) FindMintByReference(_ context.Context, reference [32]byte) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, ok := c.mints[reference]
	return hash, ok, nil
}

func (c *fakeDestClient) submitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}
