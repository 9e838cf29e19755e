package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

// key prefixes, one per logical table, mirroring the teacher's
// single-keyspace-with-prefixes convention (storage/database
// accessors_chain.go headerPrefix/blockBodyPrefix style) since the
// embedded engines here expose one flat byte-keyed namespace.
const (
	prefixTransfer       = "t/"
	prefixTransferBySrc  = "t-src/"
	prefixJournal        = "j/"
	prefixLastScanned    = "ls/"
	prefixTokenMap       = "tm/"
	prefixFinalization   = "f/"
	prefixIncident       = "inc/"
	prefixBucket         = "rl/"
	prefixHalt           = "halt"
	prefixAllowlist      = "allow/"
	prefixBlocklist      = "block/"
	keyLastProposed      = "lp"
)

// Store implements store.Store over an Engine, JSON-encoding every row
// and maintaining the one secondary index (by source_tx_hash) the
// interface's query methods need; status queries scan every transfer row.
type Store struct {
	eng Engine

	mu        sync.Mutex // serializes read-modify-write sequences; the embedded engines are not transactional across multiple keys
	journalSeq int64
	incidentSeq int64
}

// New opens (or creates) a Store backed by eng.
func New(eng Engine) *Store {
	return &Store{eng: eng}
}

func normPrincipal(p string) string { return strings.ToLower(strings.TrimSpace(p)) }

func (s *Store) putJSON(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.eng.Put([]byte(key), b)
}

func (s *Store) getJSON(key string, v interface{}) (bool, error) {
	b, err := s.eng.Get([]byte(key))
	if err == ErrEngineNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, v)
}

// --- Transfer ---

func (s *Store) CreateTransfer(ctx context.Context, t *model.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.SourceTxHash != "" {
		if ok, _ := s.eng.Has([]byte(prefixTransferBySrc + t.SourceTxHash)); ok {
			return store.ErrAlreadyExists
		}
	}
	if err := s.putJSON(prefixTransfer+t.ID, t); err != nil {
		return err
	}
	if t.SourceTxHash != "" {
		if err := s.eng.Put([]byte(prefixTransferBySrc+t.SourceTxHash), []byte(t.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*model.Transfer, error) {
	var t model.Transfer
	ok, err := s.getJSON(prefixTransfer+id, &t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) GetTransferBySourceTxHash(ctx context.Context, sourceTxHash string) (*model.Transfer, error) {
	idBytes, err := s.eng.Get([]byte(prefixTransferBySrc + sourceTxHash))
	if err == ErrEngineNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetTransfer(ctx, string(idBytes))
}

func (s *Store) UpdateTransferStatus(ctx context.Context, id string, expected, next model.TransferStatus, mutate func(*model.Transfer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t model.Transfer
	ok, err := s.getJSON(prefixTransfer+id, &t)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if t.Status != expected {
		return store.ErrConflict
	}
	t.Status = next
	t.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(&t)
	}
	if err := s.putJSON(prefixTransfer+id, &t); err != nil {
		return err
	}
	if t.SourceTxHash != "" {
		if err := s.eng.Put([]byte(prefixTransferBySrc+t.SourceTxHash), []byte(id)); err != nil {
			return err
		}
	}
	s.journalSeq++
	entry := &model.TransitionJournalEntry{ID: s.journalSeq, TransferID: id, From: expected, To: next, At: t.UpdatedAt}
	return s.putJSON(fmt.Sprintf("%s%020d", prefixJournal, entry.ID), entry)
}

func (s *Store) allTransfers() ([]*model.Transfer, error) {
	var out []*model.Transfer
	err := s.eng.Iterate([]byte(prefixTransfer), func(key, value []byte) bool {
		if strings.HasPrefix(string(key), prefixTransferBySrc) {
			return true
		}
		var t model.Transfer
		if json.Unmarshal(value, &t) == nil {
			out = append(out, &t)
		}
		return true
	})
	return out, err
}

func (s *Store) ListPendingTransfers(ctx context.Context, direction model.Direction, limit int) ([]*model.Transfer, error) {
	all, err := s.allTransfers()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []*model.Transfer
	for _, t := range all {
		if t.Direction != direction || t.Status != model.StatusPending {
			continue
		}
		if t.NextRetryTime != nil && t.NextRetryTime.After(now) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStuckTransfers(ctx context.Context, olderThanUnixMs int64, limit int) ([]*model.Transfer, error) {
	all, err := s.allTransfers()
	if err != nil {
		return nil, err
	}
	cutoff := time.UnixMilli(olderThanUnixMs)
	var out []*model.Transfer
	for _, t := range all {
		switch t.Status {
		case model.StatusProcessing, model.StatusConfirming, model.StatusFinalizing:
			if t.UpdatedAt.Before(cutoff) {
				out = append(out, t)
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
	all, err := s.allTransfers()
	if err != nil {
		return nil, err
	}
	var out []*model.Transfer
	for _, t := range all {
		if f.Direction != nil && t.Direction != *f.Direction {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		out = append(out, t)
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
	return s.putJSON(fmt.Sprintf("%s%020d", prefixJournal, cp.ID), &cp)
}

func (s *Store) ReadTransitionJournal(ctx context.Context, transferID string) ([]*model.TransitionJournalEntry, error) {
	var out []*model.TransitionJournalEntry
	err := s.eng.Iterate([]byte(prefixJournal), func(key, value []byte) bool {
		var e model.TransitionJournalEntry
		if json.Unmarshal(value, &e) == nil && e.TransferID == transferID {
			out = append(out, &e)
		}
		return true
	})
	return out, err
}

func (s *Store) ReadAllTransitionJournal(ctx context.Context, sinceUnixMs int64, limit int) ([]*model.TransitionJournalEntry, error) {
	since := time.UnixMilli(sinceUnixMs)
	var out []*model.TransitionJournalEntry
	err := s.eng.Iterate([]byte(prefixJournal), func(key, value []byte) bool {
		var e model.TransitionJournalEntry
		if json.Unmarshal(value, &e) == nil && !e.At.Before(since) {
			out = append(out, &e)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Ingestion checkpoints ---

func (s *Store) GetLastScanned(ctx context.Context, direction model.Direction) (uint64, bool, error) {
	b, err := s.eng.Get([]byte(prefixLastScanned + string(direction)))
	if err == ErrEngineNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(b), true, nil
}

func (s *Store) SetLastScanned(ctx context.Context, direction model.Direction, blockNumber uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, blockNumber)
	return s.eng.Put([]byte(prefixLastScanned+string(direction)), b)
}

func (s *Store) GetLastProposed(ctx context.Context) (uint64, bool, error) {
	b, err := s.eng.Get([]byte(keyLastProposed))
	if err == ErrEngineNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(b), true, nil
}

func (s *Store) SetLastProposed(ctx context.Context, blockNumber uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, blockNumber)
	return s.eng.Put([]byte(keyLastProposed), b)
}

func (s *Store) Close() error { return s.eng.Close() }

var _ store.Store = (*Store)(nil)
