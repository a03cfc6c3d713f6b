package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/infra/storage"
)

var nowFn = time.Now

// memState holds every record map. A transaction works on a deep clone and
// the clone replaces the live state only when the closure succeeds.
type memState struct {
	custodians   map[string]*domain.Custodian
	wallets      map[string]*domain.Wallet
	attestations map[string][]*domain.Attestation
	rounds       map[string]*domain.OracleRound
	reserves     map[string]*domain.ReserveSnapshot
	redemptions  map[string]*domain.Redemption
	usedTxIDs    map[string]string
	receipts     []*domain.MintReceipt
	params       *domain.SystemParams
	events       []*domain.Event
	nextAttID    uint64
	nextEventID  uint64
}

func newMemState() *memState {
	return &memState{
		custodians:   make(map[string]*domain.Custodian),
		wallets:      make(map[string]*domain.Wallet),
		attestations: make(map[string][]*domain.Attestation),
		rounds:       make(map[string]*domain.OracleRound),
		reserves:     make(map[string]*domain.ReserveSnapshot),
		redemptions:  make(map[string]*domain.Redemption),
		usedTxIDs:    make(map[string]string),
		nextAttID:    1,
		nextEventID:  1,
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.custodians {
		cp := *v
		c.custodians[k] = &cp
	}
	for k, v := range st.wallets {
		cp := *v
		c.wallets[k] = &cp
	}
	for k, v := range st.attestations {
		c.attestations[k] = append([]*domain.Attestation(nil), v...)
	}
	for k, v := range st.rounds {
		cp := *v
		c.rounds[k] = &cp
	}
	for k, v := range st.reserves {
		cp := *v
		c.reserves[k] = &cp
	}
	for k, v := range st.redemptions {
		cp := *v
		c.redemptions[k] = &cp
	}
	for k, v := range st.usedTxIDs {
		c.usedTxIDs[k] = v
	}
	c.receipts = append([]*domain.MintReceipt(nil), st.receipts...)
	c.events = append([]*domain.Event(nil), st.events...)
	if st.params != nil {
		cp := *st.params
		c.params = &cp
	}
	c.nextAttID = st.nextAttID
	c.nextEventID = st.nextEventID
	return c
}

// MemoryStore is the in-memory storage.Store used by tests and dev mode.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
	tx    *memState // non-nil when this instance is a transactional view
}

var _ storage.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (m *MemoryStore) read(fn func(st *memState) error) error {
	if m.tx != nil {
		return fn(m.tx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

func (m *MemoryStore) write(fn func(st *memState) error) error {
	if m.tx != nil {
		return fn(m.tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

// WithinTx clones the state, runs fn against the clone and commits the clone
// on success. The store lock is held for the whole closure, so transactions
// are serialized and all-or-nothing. A nested call joins the enclosing
// transaction.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, s storage.Store) error) error {
	if m.tx != nil {
		return fn(ctx, m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	scratch := m.state.clone()
	view := &MemoryStore{tx: scratch}
	if err := fn(ctx, view); err != nil {
		return err
	}
	m.state = scratch
	return nil
}

func (m *MemoryStore) Custodians() storage.CustodianRepository     { return &custodianRepo{m} }
func (m *MemoryStore) Wallets() storage.WalletRepository           { return &walletRepo{m} }
func (m *MemoryStore) Attestations() storage.AttestationRepository { return &attestationRepo{m} }
func (m *MemoryStore) Reserves() storage.ReserveRepository         { return &reserveRepo{m} }
func (m *MemoryStore) Redemptions() storage.RedemptionRepository   { return &redemptionRepo{m} }
func (m *MemoryStore) Receipts() storage.ReceiptRepository         { return &receiptRepo{m} }
func (m *MemoryStore) Params() storage.ParamsRepository            { return &paramsRepo{m} }
func (m *MemoryStore) Events() storage.EventRepository             { return &eventRepo{m} }

// -----------------------------------------------------------------------------
// Custodian Repository
// -----------------------------------------------------------------------------

type custodianRepo struct {
	store *MemoryStore
}

func (r *custodianRepo) Create(ctx context.Context, custodian *domain.Custodian) error {
	return r.store.write(func(st *memState) error {
		if _, ok := st.custodians[custodian.ID]; ok {
			return storage.ErrCustodianExists
		}
		cp := *custodian
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = nowFn()
		}
		cp.UpdatedAt = cp.CreatedAt
		st.custodians[custodian.ID] = &cp
		return nil
	})
}

func (r *custodianRepo) Get(ctx context.Context, id string) (*domain.Custodian, error) {
	var out *domain.Custodian
	err := r.store.read(func(st *memState) error {
		c, ok := st.custodians[id]
		if !ok {
			return storage.ErrCustodianNotFound
		}
		cp := *c
		out = &cp
		return nil
	})
	return out, err
}

func (r *custodianRepo) List(ctx context.Context) ([]*domain.Custodian, error) {
	var out []*domain.Custodian
	err := r.store.read(func(st *memState) error {
		for _, c := range st.custodians {
			cp := *c
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *custodianRepo) SetStatus(ctx context.Context, id string, from, to domain.CustodianStatus) error {
	return r.store.write(func(st *memState) error {
		c, ok := st.custodians[id]
		if !ok {
			return storage.ErrCustodianNotFound
		}
		if c.Status != from {
			return storage.ErrConditionFailed
		}
		c.Status = to
		c.UpdatedAt = nowFn()
		return nil
	})
}

func (r *custodianRepo) SetMaxCapacity(ctx context.Context, id string, maxCapacity uint64) error {
	return r.store.write(func(st *memState) error {
		c, ok := st.custodians[id]
		if !ok {
			return storage.ErrCustodianNotFound
		}
		c.MaxCapacity = maxCapacity
		c.UpdatedAt = nowFn()
		return nil
	})
}

func (r *custodianRepo) IncrementMinted(ctx context.Context, id string, amount, reserveCeiling uint64) error {
	return r.store.write(func(st *memState) error {
		c, ok := st.custodians[id]
		if !ok {
			return storage.ErrCustodianNotFound
		}
		next := c.Minted + amount
		if next < c.Minted { // overflow
			return storage.ErrConditionFailed
		}
		if c.Status != domain.CustodianActive || next > c.MaxCapacity || next > reserveCeiling {
			return storage.ErrConditionFailed
		}
		c.Minted = next
		c.UpdatedAt = nowFn()
		return nil
	})
}

func (r *custodianRepo) DecrementMinted(ctx context.Context, id string, amount uint64) error {
	return r.store.write(func(st *memState) error {
		c, ok := st.custodians[id]
		if !ok {
			return storage.ErrCustodianNotFound
		}
		if c.Minted < amount {
			return storage.ErrConditionFailed
		}
		c.Minted -= amount
		c.UpdatedAt = nowFn()
		return nil
	})
}

// -----------------------------------------------------------------------------
// Wallet Repository
// -----------------------------------------------------------------------------

type walletRepo struct {
	store *MemoryStore
}

func (r *walletRepo) Create(ctx context.Context, wallet *domain.Wallet) error {
	return r.store.write(func(st *memState) error {
		if _, ok := st.wallets[wallet.Address]; ok {
			return storage.ErrWalletExists
		}
		cp := *wallet
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = nowFn()
		}
		cp.UpdatedAt = cp.CreatedAt
		st.wallets[wallet.Address] = &cp
		return nil
	})
}

func (r *walletRepo) Get(ctx context.Context, address string) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := r.store.read(func(st *memState) error {
		w, ok := st.wallets[address]
		if !ok {
			return storage.ErrWalletNotFound
		}
		cp := *w
		out = &cp
		return nil
	})
	return out, err
}

func (r *walletRepo) ListByCustodian(ctx context.Context, custodianID string) ([]*domain.Wallet, error) {
	var out []*domain.Wallet
	err := r.store.read(func(st *memState) error {
		for _, w := range st.wallets {
			if w.CustodianID == custodianID {
				cp := *w
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, err
}

func (r *walletRepo) SetStatus(ctx context.Context, address string, from, to domain.WalletStatus) error {
	return r.store.write(func(st *memState) error {
		w, ok := st.wallets[address]
		if !ok {
			return storage.ErrWalletNotFound
		}
		if w.Status != from {
			return storage.ErrConditionFailed
		}
		w.Status = to
		w.UpdatedAt = nowFn()
		return nil
	})
}

// -----------------------------------------------------------------------------
// Attestation Repository
// -----------------------------------------------------------------------------

type attestationRepo struct {
	store *MemoryStore
}

func (r *attestationRepo) Append(ctx context.Context, att *domain.Attestation) error {
	return r.store.write(func(st *memState) error {
		for _, existing := range st.attestations[att.CustodianID] {
			if existing.Round == att.Round && existing.Attester == att.Attester {
				return storage.ErrDuplicateAttestation
			}
		}
		cp := *att
		cp.ID = st.nextAttID
		st.nextAttID++
		st.attestations[att.CustodianID] = append(st.attestations[att.CustodianID], &cp)
		att.ID = cp.ID
		return nil
	})
}

func (r *attestationRepo) ListByRound(ctx context.Context, custodianID string, round uint64) ([]*domain.Attestation, error) {
	var out []*domain.Attestation
	err := r.store.read(func(st *memState) error {
		for _, a := range st.attestations[custodianID] {
			if a.Round == round {
				cp := *a
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *attestationRepo) CurrentRound(ctx context.Context, custodianID string) (*domain.OracleRound, error) {
	var out *domain.OracleRound
	err := r.store.write(func(st *memState) error {
		round, ok := st.rounds[custodianID]
		if !ok {
			round = &domain.OracleRound{CustodianID: custodianID, Round: 1, OpenedAt: nowFn()}
			st.rounds[custodianID] = round
		}
		cp := *round
		out = &cp
		return nil
	})
	return out, err
}

func (r *attestationRepo) AdvanceRound(ctx context.Context, custodianID string, from uint64) error {
	return r.store.write(func(st *memState) error {
		round, ok := st.rounds[custodianID]
		if !ok || round.Round != from {
			return storage.ErrConditionFailed
		}
		round.Round = from + 1
		round.OpenedAt = nowFn()
		return nil
	})
}

// -----------------------------------------------------------------------------
// Reserve Repository
// -----------------------------------------------------------------------------

type reserveRepo struct {
	store *MemoryStore
}

func (r *reserveRepo) Get(ctx context.Context, custodianID string) (*domain.ReserveSnapshot, error) {
	var out *domain.ReserveSnapshot
	err := r.store.read(func(st *memState) error {
		s, ok := st.reserves[custodianID]
		if !ok {
			return storage.ErrNoReserve
		}
		cp := *s
		out = &cp
		return nil
	})
	return out, err
}

func (r *reserveRepo) Put(ctx context.Context, snapshot *domain.ReserveSnapshot) error {
	return r.store.write(func(st *memState) error {
		cp := *snapshot
		st.reserves[snapshot.CustodianID] = &cp
		return nil
	})
}

// -----------------------------------------------------------------------------
// Redemption Repository
// -----------------------------------------------------------------------------

type redemptionRepo struct {
	store *MemoryStore
}

func (r *redemptionRepo) Create(ctx context.Context, redemption *domain.Redemption) error {
	return r.store.write(func(st *memState) error {
		cp := *redemption
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = nowFn()
		}
		st.redemptions[redemption.ID] = &cp
		return nil
	})
}

func (r *redemptionRepo) Get(ctx context.Context, id string) (*domain.Redemption, error) {
	var out *domain.Redemption
	err := r.store.read(func(st *memState) error {
		rec, ok := st.redemptions[id]
		if !ok {
			return storage.ErrRedemptionNotFound
		}
		cp := *rec
		out = &cp
		return nil
	})
	return out, err
}

func (r *redemptionRepo) ListByCustodian(ctx context.Context, custodianID string) ([]*domain.Redemption, error) {
	var out []*domain.Redemption
	err := r.store.read(func(st *memState) error {
		for _, rec := range st.redemptions {
			if rec.CustodianID == custodianID {
				cp := *rec
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (r *redemptionRepo) ListPending(ctx context.Context) ([]*domain.Redemption, error) {
	var out []*domain.Redemption
	err := r.store.read(func(st *memState) error {
		for _, rec := range st.redemptions {
			if rec.Status == domain.RedemptionPending {
				cp := *rec
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *redemptionRepo) Finalize(ctx context.Context, id string, status domain.RedemptionStatus, txID string) error {
	return r.store.write(func(st *memState) error {
		rec, ok := st.redemptions[id]
		if !ok {
			return storage.ErrRedemptionNotFound
		}
		if rec.Status != domain.RedemptionPending {
			return storage.ErrConditionFailed
		}
		if txID != "" {
			if _, used := st.usedTxIDs[txID]; used {
				return storage.ErrTxIDUsed
			}
			st.usedTxIDs[txID] = id
		}
		now := nowFn()
		rec.Status = status
		rec.TxID = txID
		rec.FinalizedAt = &now
		return nil
	})
}

// -----------------------------------------------------------------------------
// Receipt Repository
// -----------------------------------------------------------------------------

type receiptRepo struct {
	store *MemoryStore
}

func (r *receiptRepo) Create(ctx context.Context, receipt *domain.MintReceipt) error {
	return r.store.write(func(st *memState) error {
		cp := *receipt
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = nowFn()
		}
		st.receipts = append(st.receipts, &cp)
		return nil
	})
}

func (r *receiptRepo) ListByCustodian(ctx context.Context, custodianID string, limit int) ([]*domain.MintReceipt, error) {
	var out []*domain.MintReceipt
	err := r.store.read(func(st *memState) error {
		for i := len(st.receipts) - 1; i >= 0; i-- {
			if st.receipts[i].CustodianID != custodianID {
				continue
			}
			cp := *st.receipts[i]
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// -----------------------------------------------------------------------------
// Params Repository
// -----------------------------------------------------------------------------

type paramsRepo struct {
	store *MemoryStore
}

func (r *paramsRepo) Get(ctx context.Context) (*domain.SystemParams, error) {
	var out *domain.SystemParams
	err := r.store.read(func(st *memState) error {
		if st.params == nil {
			return storage.ErrParamsNotFound
		}
		cp := *st.params
		out = &cp
		return nil
	})
	return out, err
}

func (r *paramsRepo) Put(ctx context.Context, params *domain.SystemParams) error {
	return r.store.write(func(st *memState) error {
		cp := *params
		st.params = &cp
		return nil
	})
}

// -----------------------------------------------------------------------------
// Event Repository
// -----------------------------------------------------------------------------

type eventRepo struct {
	store *MemoryStore
}

func (r *eventRepo) Append(ctx context.Context, event *domain.Event) error {
	return r.store.write(func(st *memState) error {
		cp := *event
		cp.ID = st.nextEventID
		st.nextEventID++
		st.events = append(st.events, &cp)
		event.ID = cp.ID
		return nil
	})
}

func (r *eventRepo) List(ctx context.Context, custodianID string, limit int) ([]*domain.Event, error) {
	var out []*domain.Event
	err := r.store.read(func(st *memState) error {
		for i := len(st.events) - 1; i >= 0; i-- {
			if custodianID != "" && st.events[i].CustodianID != custodianID {
				continue
			}
			cp := *st.events[i]
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}
