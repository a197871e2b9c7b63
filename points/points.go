// Package points implements a clamped points balance with a full ledger.
package points

import (
	"math"
	"sync"

	"playkit/core"
	"playkit/engine"
)

// TxType distinguishes ledger entries.
type TxType string

const (
	TxAward TxType = "award"
	TxSpend TxType = "spend"
)

// Transaction is one ledger entry. Amount is the change actually applied
// after clamping and is negative for spends.
type Transaction struct {
	ID        string `json:"id"`
	Type      TxType `json:"type"`
	Amount    int64  `json:"amount"`
	Balance   int64  `json:"balance"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// State is the persisted snapshot.
type State struct {
	UserID         core.UserID   `json:"user_id"`
	Balance        int64         `json:"balance"`
	LifetimeEarned int64         `json:"lifetime_earned"`
	LifetimeSpent  int64         `json:"lifetime_spent"`
	Transactions   []Transaction `json:"transactions"`
	LastUpdated    int64         `json:"last_updated"`
}

// Config parameterises a Service.
type Config struct {
	UserID     core.UserID
	MinBalance int64
	// MaxBalance of zero means unbounded.
	MaxBalance int64

	OnAward func(Transaction)
	OnSpend func(Transaction)

	Clock core.Clock
	IDs   core.IDGenerator
}

var (
	EventAwarded = engine.NewEvent[Transaction]("points_awarded")
	EventSpent   = engine.NewEvent[Transaction]("points_spent")
	EventReset   = engine.NewEvent[core.UserID]("reset")
)

// Events lists every event after which the snapshot changed.
var Events = []string{EventAwarded.Name(), EventSpent.Name(), EventReset.Name()}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	clock   core.Clock
	ids     core.IDGenerator
	emitter *engine.Emitter
	state   State
}

func New(cfg Config, state *State) (*Service, error) {
	if cfg.MaxBalance == 0 {
		cfg.MaxBalance = math.MaxInt64
	}
	if cfg.MinBalance > cfg.MaxBalance {
		return nil, core.Validationf("min_balance", "must not exceed max_balance (%d > %d)", cfg.MinBalance, cfg.MaxBalance)
	}
	s := &Service{
		cfg:     cfg,
		clock:   core.ClockOrSystem(cfg.Clock),
		ids:     cfg.IDs,
		emitter: engine.NewEmitter(),
	}
	if s.ids == nil {
		s.ids = core.NewID
	}
	if state == nil {
		s.state = s.fresh(cfg.UserID)
		return s, nil
	}
	s.state = clone(*state)
	if s.state.UserID == "" {
		s.state.UserID = cfg.UserID
	}
	s.state.Balance = s.clamp(s.state.Balance)
	if s.state.Transactions == nil {
		s.state.Transactions = []Transaction{}
	}
	return s, nil
}

func (s *Service) fresh(user core.UserID) State {
	return State{
		UserID:       user,
		Balance:      s.clamp(0),
		Transactions: []Transaction{},
		LastUpdated:  core.Millis(s.clock.Now()),
	}
}

func (s *Service) clamp(v int64) int64 {
	return max(s.cfg.MinBalance, min(v, s.cfg.MaxBalance))
}

// Award adds amount to the balance, clamped at MaxBalance. Lifetime earned
// grows by the full amount.
func (s *Service) Award(amount int64, reason string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, core.Validationf("amount", "must be positive, got %d", amount)
	}
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Balance
	s.state.Balance = s.clamp(core.AddSaturating(prev, amount))
	s.state.LifetimeEarned = core.AddSaturating(s.state.LifetimeEarned, amount)
	tx := s.record(TxAward, s.state.Balance-prev, reason)

	engine.Callback(&p, s.cfg.OnAward, tx)
	engine.Later(&p, s.emitter, EventAwarded, tx)
	return tx, nil
}

// Spend removes amount from the balance. Spending below MinBalance is a
// business failure and leaves the state unchanged.
func (s *Service) Spend(amount int64, reason string) (core.Result[Transaction], error) {
	if amount <= 0 {
		return core.Result[Transaction]{}, core.Validationf("amount", "must be positive, got %d", amount)
	}
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Balance-amount < s.cfg.MinBalance || s.state.Balance < math.MinInt64+amount {
		return core.Fail[Transaction](core.FailureInsufficientBalance,
			"balance %d cannot cover %d", s.state.Balance, amount), nil
	}
	s.state.Balance -= amount
	s.state.LifetimeSpent = core.AddSaturating(s.state.LifetimeSpent, amount)
	tx := s.record(TxSpend, -amount, reason)

	engine.Callback(&p, s.cfg.OnSpend, tx)
	engine.Later(&p, s.emitter, EventSpent, tx)
	return core.Succeed(tx), nil
}

// CanAfford reports whether amount can be spent now.
func (s *Service) CanAfford(amount int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return amount >= 0 && s.state.Balance-amount >= s.cfg.MinBalance
}

// Reset zeroes the balance, lifetime counters and ledger.
func (s *Service) Reset() {
	var p engine.Pending
	defer p.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.fresh(s.state.UserID)
	engine.Later(&p, s.emitter, EventReset, s.state.UserID)
}

func (s *Service) record(typ TxType, amount int64, reason string) Transaction {
	now := core.Millis(s.clock.Now())
	tx := Transaction{
		ID:        s.ids(),
		Type:      typ,
		Amount:    amount,
		Balance:   s.state.Balance,
		Reason:    reason,
		Timestamp: now,
	}
	s.state.Transactions = append(s.state.Transactions, tx)
	s.state.LastUpdated = now
	return tx
}

// Balance returns the current balance.
func (s *Service) Balance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Balance
}

// Transactions returns the most recent limit ledger entries, newest last.
// A limit <= 0 returns the whole ledger.
func (s *Service) Transactions(limit int) []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	txs := s.state.Transactions
	if limit > 0 && len(txs) > limit {
		txs = txs[len(txs)-limit:]
	}
	return append([]Transaction(nil), txs...)
}

func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.state)
}

func (s *Service) Subscribe(fn func(name string, payload any)) func() {
	return s.emitter.Watch(fn, Events...)
}

// OnAwarded registers a typed award handler.
func (s *Service) OnAwarded(fn func(Transaction)) func() {
	return engine.On(s.emitter, EventAwarded, fn)
}

// OnSpent registers a typed spend handler.
func (s *Service) OnSpent(fn func(Transaction)) func() {
	return engine.On(s.emitter, EventSpent, fn)
}

func clone(st State) State {
	st.Transactions = append([]Transaction{}, st.Transactions...)
	return st
}
