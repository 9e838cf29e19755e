package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/chainbridge-x/engine/internal/bigutil"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

// --- TokenMap ---

func (s *Store) CreateTokenMap(ctx context.Context, tm *model.TokenMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok, _ := s.eng.Has([]byte(prefixTokenMap + tm.SourceToken)); ok {
		return store.ErrAlreadyExists
	}
	return s.putJSON(prefixTokenMap+tm.SourceToken, tm)
}

func (s *Store) GetTokenMap(ctx context.Context, sourceToken string) (*model.TokenMap, error) {
	var tm model.TokenMap
	ok, err := s.getJSON(prefixTokenMap+sourceToken, &tm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tm, nil
}

func (s *Store) ListTokenMaps(ctx context.Context) ([]*model.TokenMap, error) {
	var out []*model.TokenMap
	err := s.eng.Iterate([]byte(prefixTokenMap), func(key, value []byte) bool {
		var tm model.TokenMap
		if json.Unmarshal(value, &tm) == nil {
			out = append(out, &tm)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SourceToken < out[j].SourceToken })
	return out, err
}

func (s *Store) IncrementTokenMapTotals(ctx context.Context, sourceToken string, direction model.Direction, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tm model.TokenMap
	ok, err := s.getJSON(prefixTokenMap+sourceToken, &tm)
	if err != nil {
		return err
	}
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
	return s.putJSON(prefixTokenMap+sourceToken, &tm)
}

func (s *Store) ResetDailyTotals(ctx context.Context, sourceToken string, resetAt interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tm model.TokenMap
	ok, err := s.getJSON(prefixTokenMap+sourceToken, &tm)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	tm.DailyDeposited = "0"
	tm.DailyWithdrawn = "0"
	if t, ok := resetAt.(time.Time); ok {
		tm.DailyResetAt = t
	}
	return s.putJSON(prefixTokenMap+sourceToken, &tm)
}

// --- Finalization ---

func finalizationKey(n uint64) string { return fmt.Sprintf("%s%020d", prefixFinalization, n) }

func (s *Store) CreateFinalization(ctx context.Context, f *model.Finalization) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := finalizationKey(f.BlockNumber)
	if ok, _ := s.eng.Has([]byte(key)); ok {
		return false, nil
	}
	return true, s.putJSON(key, f)
}

func (s *Store) GetFinalization(ctx context.Context, blockNumber uint64) (*model.Finalization, error) {
	var f model.Finalization
	ok, err := s.getJSON(finalizationKey(blockNumber), &f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (s *Store) UpdateFinalizationState(ctx context.Context, blockNumber uint64, expected, next model.FinalizationState, mutate func(*model.Finalization)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := finalizationKey(blockNumber)
	var f model.Finalization
	ok, err := s.getJSON(key, &f)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if f.State != expected {
		return store.ErrConflict
	}
	f.State = next
	if mutate != nil {
		mutate(&f)
	}
	return s.putJSON(key, &f)
}

func (s *Store) allFinalizations() ([]*model.Finalization, error) {
	var out []*model.Finalization
	err := s.eng.Iterate([]byte(prefixFinalization), func(key, value []byte) bool {
		var f model.Finalization
		if json.Unmarshal(value, &f) == nil {
			out = append(out, &f)
		}
		return true
	})
	return out, err
}

func (s *Store) ListFinalizationsByState(ctx context.Context, state model.FinalizationState, limit int) ([]*model.Finalization, error) {
	all, err := s.allFinalizations()
	if err != nil {
		return nil, err
	}
	var out []*model.Finalization
	for _, f := range all {
		if f.State == state {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber > out[j].BlockNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListProposedBefore(ctx context.Context, unixMs int64, limit int) ([]*model.Finalization, error) {
	all, err := s.allFinalizations()
	if err != nil {
		return nil, err
	}
	cutoff := time.UnixMilli(unixMs)
	var out []*model.Finalization
	for _, f := range all {
		if f.State == model.FinalizationProposed && f.ExpectedFinalizationTime.Before(cutoff) {
			out = append(out, f)
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
		s.incidentSeq++
		inc.ID = fmt.Sprintf("inc-%d", s.incidentSeq)
	}
	return s.putJSON(prefixIncident+inc.ID, inc)
}

func (s *Store) allIncidents() ([]*model.Incident, error) {
	var out []*model.Incident
	err := s.eng.Iterate([]byte(prefixIncident), func(key, value []byte) bool {
		var inc model.Incident
		if json.Unmarshal(value, &inc) == nil {
			out = append(out, &inc)
		}
		return true
	})
	return out, err
}

func (s *Store) CountUnresolvedIncidents(ctx context.Context) (int, error) {
	all, err := s.allIncidents()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, inc := range all {
		if !inc.Resolved {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListIncidents(ctx context.Context, onlyUnresolved bool, limit int) ([]*model.Incident, error) {
	all, err := s.allIncidents()
	if err != nil {
		return nil, err
	}
	var out []*model.Incident
	for _, inc := range all {
		if onlyUnresolved && inc.Resolved {
			continue
		}
		out = append(out, inc)
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
	var inc model.Incident
	ok, err := s.getJSON(prefixIncident+id, &inc)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	inc.Resolved = true
	inc.Resolver = resolver
	inc.ResolutionNote = note
	return s.putJSON(prefixIncident+id, &inc)
}

// --- RateLimitBucket ---

func bucketKey(principal, action string) string { return prefixBucket + normPrincipal(principal) + "/" + action }

func (s *Store) GetRateLimitBucket(ctx context.Context, principal, action string) (*model.RateLimitBucket, bool, error) {
	var b model.RateLimitBucket
	ok, err := s.getJSON(bucketKey(principal, action), &b)
	if err != nil || !ok {
		return nil, false, err
	}
	return &b, true, nil
}

func (s *Store) SaveRateLimitBucket(ctx context.Context, b *model.RateLimitBucket) error {
	return s.putJSON(bucketKey(b.Principal, b.Action), b)
}

func (s *Store) GCRateLimitBuckets(ctx context.Context, olderThanUnixMs int64) (int, error) {
	cutoff := time.UnixMilli(olderThanUnixMs)
	var toDelete [][]byte
	err := s.eng.Iterate([]byte(prefixBucket), func(key, value []byte) bool {
		var b model.RateLimitBucket
		if json.Unmarshal(value, &b) == nil && b.WindowStart.Before(cutoff) && b.BlockedUntil.Before(cutoff) {
			toDelete = append(toDelete, append([]byte(nil), key...))
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	for _, k := range toDelete {
		if err := s.eng.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}

// --- Emergency halt ---

type haltRecord struct {
	Halted bool   `json:"halted"`
	Reason string `json:"reason"`
}

func (s *Store) GetEmergencyHalt(ctx context.Context) (bool, string, error) {
	var r haltRecord
	ok, err := s.getJSON(prefixHalt, &r)
	if err != nil || !ok {
		return false, "", err
	}
	return r.Halted, r.Reason, nil
}

func (s *Store) SetEmergencyHalt(ctx context.Context, halted bool, reason string) error {
	return s.putJSON(prefixHalt, &haltRecord{Halted: halted, Reason: reason})
}

// --- Allow/block lists ---

func (s *Store) IsAllowlisted(ctx context.Context, principal string) (bool, error) {
	return s.eng.Has([]byte(prefixAllowlist + normPrincipal(principal)))
}

func (s *Store) IsBlocklisted(ctx context.Context, principal string) (bool, error) {
	return s.eng.Has([]byte(prefixBlocklist + normPrincipal(principal)))
}

func (s *Store) AddToAllowlist(ctx context.Context, principal string) error {
	return s.eng.Put([]byte(prefixAllowlist+normPrincipal(principal)), []byte{1})
}

func (s *Store) AddToBlocklist(ctx context.Context, principal string) error {
	return s.eng.Put([]byte(prefixBlocklist+normPrincipal(principal)), []byte{1})
}

func (s *Store) RemoveFromBlocklist(ctx context.Context, principal string) error {
	return s.eng.Delete([]byte(prefixBlocklist + normPrincipal(principal)))
}
