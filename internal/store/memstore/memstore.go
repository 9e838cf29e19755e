// Package memstore is the in-memory store.Store backend, grounded on the
// teacher's storage/database.MemDatabase (a mutex-guarded map standing in
// for the real engine in tests and in the teacher's -datadir-less dev
// mode).
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chainbridge-x/engine/internal/bigutil"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

// Store is a goroutine-safe, fully in-memory store.Store.
type Store struct {
	mu sync.RWMutex

	transfers   map[string]*model.Transfer
	bySourceTx  map[string]string // sourceTxHash -> transfer id
	journal     []*model.TransitionJournalEntry
	journalSeq  int64
	lastScanned map[model.Direction]uint64

	lastProposed    uint64
	lastProposedSet bool

	tokenMaps map[string]*model.TokenMap

	finalizations map[uint64]*model.Finalization

	incidents map[string]*model.Incident

	buckets map[string]*model.RateLimitBucket

	halted       bool
	haltReason   string

	allowlist map[string]bool
	blocklist map[string]bool

	idSeq int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		transfers:     make(map[string]*model.Transfer),
		bySourceTx:    make(map[string]string),
		lastScanned:   make(map[model.Direction]uint64),
		tokenMaps:     make(map[string]*model.TokenMap),
		finalizations: make(map[uint64]*model.Finalization),
		incidents:     make(map[string]*model.Incident),
		buckets:       make(map[string]*model.RateLimitBucket),
		allowlist:     make(map[string]bool),
		blocklist:     make(map[string]bool),
	}
}

func normPrincipal(p string) string { return strings.ToLower(strings.TrimSpace(p)) }

func (s *Store) nextID(prefix string) string {
	s.idSeq++
	return prefix + "-" + itoa(s.idSeq)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// --- Transfer ---

func (s *Store) CreateTransfer(ctx context.Context, t *model.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.SourceTxHash != "" {
		if _, exists := s.bySourceTx[t.SourceTxHash]; exists {
			return store.ErrAlreadyExists
		}
	}
	cp := *t
	s.transfers[cp.ID] = &cp
	if cp.SourceTxHash != "" {
		s.bySourceTx[cp.SourceTxHash] = cp.ID
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*model.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetTransferBySourceTxHash(ctx context.Context, sourceTxHash string) (*model.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySourceTx[sourceTxHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.transfers[id]
	return &cp, nil
}

func (s *Store) UpdateTransferStatus(ctx context.Context, id string, expected, next model.TransferStatus, mutate func(*model.Transfer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.Status != expected {
		return store.ErrConflict
	}
	t.Status = next
	t.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(t)
	}
	if t.SourceTxHash != "" {
		s.bySourceTx[t.SourceTxHash] = id
	}
	s.journalSeq++
	s.journal = append(s.journal, &model.TransitionJournalEntry{
		ID: s.journalSeq, TransferID: id, From: expected, To: next, At: t.UpdatedAt,
	})
	return nil
}

func (s *Store) ListPendingTransfers(ctx context.Context, direction model.Direction, limit int) ([]*model.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []*model.Transfer
	for _, t := range s.transfers {
		if t.Direction != direction {
			continue
		}
		if t.Status == model.StatusPending {
			if t.NextRetryTime != nil && t.NextRetryTime.After(now) {
				continue
			}
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStuckTransfers(ctx context.Context, olderThanUnixMs int64, limit int) ([]*model.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.UnixMilli(olderThanUnixMs)
	var out []*model.Transfer
	for _, t := range s.transfers {
		switch t.Status {
		case model.StatusProcessing, model.StatusConfirming, model.StatusFinalizing:
			if t.UpdatedAt.Before(cutoff) {
				cp := *t
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTransfers(ctx context.Context, f store.TransferFilter) ([]*model.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Transfer
	for _, t := range s.transfers {
		if f.Direction != nil && t.Direction != *f.Direction {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) AppendTransitionJournal(ctx context.Context, e *model.TransitionJournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journalSeq++
	cp := *e
	cp.ID = s.journalSeq
	s.journal = append(s.journal, &cp)
	return nil
}

func (s *Store) ReadTransitionJournal(ctx context.Context, transferID string) ([]*model.TransitionJournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.TransitionJournalEntry
	for _, e := range s.journal {
		if e.TransferID == transferID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ReadAllTransitionJournal(ctx context.Context, sinceUnixMs int64, limit int) ([]*model.TransitionJournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	since := time.UnixMilli(sinceUnixMs)
	var out []*model.TransitionJournalEntry
	for _, e := range s.journal {
		if e.At.Before(since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Ingestion checkpoints ---

func (s *Store) GetLastScanned(ctx context.Context, direction model.Direction) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.lastScanned[direction]
	return v, ok, nil
}

func (s *Store) SetLastScanned(ctx context.Context, direction model.Direction, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScanned[direction] = blockNumber
	return nil
}

func (s *Store) GetLastProposed(ctx context.Context) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastProposed, s.lastProposedSet, nil
}

func (s *Store) SetLastProposed(ctx context.Context, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProposed = blockNumber
	s.lastProposedSet = true
	return nil
}

// --- TokenMap ---

func (s *Store) CreateTokenMap(ctx context.Context, tm *model.TokenMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokenMaps[tm.SourceToken]; exists {
		return store.ErrAlreadyExists
	}
	cp := *tm
	s.tokenMaps[cp.SourceToken] = &cp
	return nil
}

func (s *Store) GetTokenMap(ctx context.Context, sourceToken string) (*model.TokenMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tm, ok := s.tokenMaps[sourceToken]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tm
	return &cp, nil
}

func (s *Store) ListTokenMaps(ctx context.Context) ([]*model.TokenMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.TokenMap, 0, len(s.tokenMaps))
	for _, tm := range s.tokenMaps {
		cp := *tm
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceToken < out[j].SourceToken })
	return out, nil
}

func (s *Store) IncrementTokenMapTotals(ctx context.Context, sourceToken string, direction model.Direction, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.tokenMaps[sourceToken]
	if !ok {
		return store.ErrNotFound
	}
	sum := func(a, b string) string {
		if a == "" {
			a = bigutil.Zero
		}
		r, err := bigutil.Add(a, b)
		if err != nil {
			return a
		}
		return r
	}
	if direction == model.DirectionDeposit {
		tm.TotalDeposited = sum(tm.TotalDeposited, value)
		tm.DailyDeposited = sum(tm.DailyDeposited, value)
	} else {
		tm.TotalWithdrawn = sum(tm.TotalWithdrawn, value)
		tm.DailyWithdrawn = sum(tm.DailyWithdrawn, value)
	}
	return nil
}

func (s *Store) ResetDailyTotals(ctx context.Context, sourceToken string, resetAt interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.tokenMaps[sourceToken]
	if !ok {
		return store.ErrNotFound
	}
	tm.DailyDeposited = "0"
	tm.DailyWithdrawn = "0"
	if t, ok := resetAt.(time.Time); ok {
		tm.DailyResetAt = t
	}
	return nil
}

// --- Finalization ---

func (s *Store) CreateFinalization(ctx context.Context, f *model.Finalization) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.finalizations[f.BlockNumber]; exists {
		return false, nil
	}
	cp := *f
	s.finalizations[cp.BlockNumber] = &cp
	return true, nil
}

func (s *Store) GetFinalization(ctx context.Context, blockNumber uint64) (*model.Finalization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.finalizations[blockNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Store) UpdateFinalizationState(ctx context.Context, blockNumber uint64, expected, next model.FinalizationState, mutate func(*model.Finalization)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.finalizations[blockNumber]
	if !ok {
		return store.ErrNotFound
	}
	if f.State != expected {
		return store.ErrConflict
	}
	f.State = next
	if mutate != nil {
		mutate(f)
	}
	return nil
}

func (s *Store) ListFinalizationsByState(ctx context.Context, state model.FinalizationState, limit int) ([]*model.Finalization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Finalization
	for _, f := range s.finalizations {
		if f.State == state {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListProposedBefore(ctx context.Context, unixMs int64, limit int) ([]*model.Finalization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.UnixMilli(unixMs)
	var out []*model.Finalization
	for _, f := range s.finalizations {
		if f.State == model.FinalizationProposed && f.ExpectedFinalizationTime.Before(cutoff) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Incident ---

func (s *Store) CreateIncident(ctx context.Context, inc *model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inc.ID == "" {
		inc.ID = s.nextID("inc")
	}
	cp := *inc
	s.incidents[cp.ID] = &cp
	return nil
}

func (s *Store) CountUnresolvedIncidents(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, inc := range s.incidents {
		if !inc.Resolved {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListIncidents(ctx context.Context, onlyUnresolved bool, limit int) ([]*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Incident
	for _, inc := range s.incidents {
		if onlyUnresolved && inc.Resolved {
			continue
		}
		cp := *inc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ResolveIncident(ctx context.Context, id, resolver, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return store.ErrNotFound
	}
	inc.Resolved = true
	inc.Resolver = resolver
	inc.ResolutionNote = note
	return nil
}

// --- RateLimitBucket ---

func bucketKey(principal, action string) string { return normPrincipal(principal) + "|" + action }

func (s *Store) GetRateLimitBucket(ctx context.Context, principal, action string) (*model.RateLimitBucket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucketKey(principal, action)]
	if !ok {
		return nil, false, nil
	}
	cp := *b
	return &cp, true, nil
}

func (s *Store) SaveRateLimitBucket(ctx context.Context, b *model.RateLimitBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.buckets[bucketKey(b.Principal, b.Action)] = &cp
	return nil
}

func (s *Store) GCRateLimitBuckets(ctx context.Context, olderThanUnixMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.UnixMilli(olderThanUnixMs)
	n := 0
	for k, b := range s.buckets {
		if b.WindowStart.Before(cutoff) && b.BlockedUntil.Before(cutoff) {
			delete(s.buckets, k)
			n++
		}
	}
	return n, nil
}

// --- Emergency halt ---

func (s *Store) GetEmergencyHalt(ctx context.Context) (bool, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.halted, s.haltReason, nil
}

func (s *Store) SetEmergencyHalt(ctx context.Context, halted bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = halted
	s.haltReason = reason
	return nil
}

// --- Allow/block lists ---

func (s *Store) IsAllowlisted(ctx context.Context, principal string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowlist[normPrincipal(principal)], nil
}

func (s *Store) IsBlocklisted(ctx context.Context, principal string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocklist[normPrincipal(principal)], nil
}

func (s *Store) AddToAllowlist(ctx context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowlist[normPrincipal(principal)] = true
	return nil
}

func (s *Store) AddToBlocklist(ctx context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocklist[normPrincipal(principal)] = true
	return nil
}

func (s *Store) RemoveFromBlocklist(ctx context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocklist, normPrincipal(principal))
	return nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
