// Package memadapter is an in-memory fake chainadapter.Adapter for tests,
// mirroring the teacher's storage/database.NewMemDatabase() pattern of a
// fully functional in-process stand-in rather than a mock framework.
package memadapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chainbridge-x/engine/internal/chainadapter"
)

// Adapter is a deterministic, goroutine-safe fake chain.
type Adapter struct {
	tag chainadapter.ChainTag

	mu         sync.Mutex
	head       uint64
	blocks     map[uint64]*chainadapter.BlockHeader
	events     []chainadapter.Event
	challenges map[uint64][]chainadapter.Challenge
	balances   map[string]string
	supported  map[string]bool
	confirmed  map[string]uint64
	reverted   map[string]bool
	validSigs  map[string]bool

	txSeq int64
}

// New returns an empty Adapter for the given chain tag.
func New(tag chainadapter.ChainTag) *Adapter {
	return &Adapter{
		tag:        tag,
		blocks:     make(map[uint64]*chainadapter.BlockHeader),
		challenges: make(map[uint64][]chainadapter.Challenge),
		balances:   make(map[string]string),
		supported:  make(map[string]bool),
		confirmed:  make(map[string]uint64),
		reverted:   make(map[string]bool),
		validSigs:  make(map[string]bool),
	}
}

func (a *Adapter) Tag() chainadapter.ChainTag { return a.tag }

// SetHead advances the fake chain's head, a test-only control method.
func (a *Adapter) SetHead(h uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.head = h
}

// PutBlock registers a block header for FetchBlock, a test-only control
// method.
func (a *Adapter) PutBlock(b *chainadapter.BlockHeader) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocks[b.Number] = b
}

// PushEvent enqueues an event to be returned by a future FetchEvents call
// whose range covers it, a test-only control method.
func (a *Adapter) PushEvent(e chainadapter.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

// SetSupported marks token as recognized (or not) on this chain.
func (a *Adapter) SetSupported(token string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.supported[token] = ok
}

// SetConfirmations fixes the confirmation depth AwaitConfirmation/
// Confirmations will report for txHash.
func (a *Adapter) SetConfirmations(txHash string, n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirmed[txHash] = n
}

// SetReverted marks txHash as reverted.
func (a *Adapter) SetReverted(txHash string, reverted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reverted[txHash] = reverted
}

// SetSignatureValid controls VerifySignature's answer for a given key.
func (a *Adapter) SetSignatureValid(key string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validSigs[key] = ok
}

func (a *Adapter) nextTxHash() string {
	n := atomic.AddInt64(&a.txSeq, 1)
	return fmt.Sprintf("0xfake%s%d", a.tag, n)
}

func (a *Adapter) Head(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.head, nil
}

func (a *Adapter) FetchEvents(ctx context.Context, from, to uint64) ([]chainadapter.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []chainadapter.Event
	for _, e := range a.events {
		if e.BlockNumber >= from && e.BlockNumber < to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *Adapter) FetchBlock(ctx context.Context, number uint64) (*chainadapter.BlockHeader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[number]
	if !ok {
		return nil, fmt.Errorf("memadapter: no block %d", number)
	}
	return b, nil
}

func (a *Adapter) SubmitLock(ctx context.Context, holder, token, value string) (string, error) {
	return a.nextTxHash(), nil
}

func (a *Adapter) SubmitRelease(ctx context.Context, recipient, token, value string, nonce uint64) (string, error) {
	return a.nextTxHash(), nil
}

func (a *Adapter) SubmitMint(ctx context.Context, recipient, token, value string, nonce uint64) (string, error) {
	return a.nextTxHash(), nil
}

func (a *Adapter) SubmitBurn(ctx context.Context, holder, token, value string, nonce uint64) (string, error) {
	return a.nextTxHash(), nil
}

func (a *Adapter) AwaitConfirmation(ctx context.Context, txHash string, required uint64) (chainadapter.ConfirmationResult, error) {
	return a.Confirmations(ctx, txHash)
}

func (a *Adapter) Confirmations(ctx context.Context, txHash string) (chainadapter.ConfirmationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return chainadapter.ConfirmationResult{
		Confirmations: a.confirmed[txHash],
		Reverted:      a.reverted[txHash],
	}, nil
}

func (a *Adapter) IsSupported(ctx context.Context, token string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ok, known := a.supported[token]
	if !known {
		return true, nil
	}
	return ok, nil
}

func (a *Adapter) Balance(ctx context.Context, token string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.balances[token]; ok {
		return v, nil
	}
	return "0", nil
}

func (a *Adapter) ProposeBlock(ctx context.Context, header *chainadapter.BlockHeader) (string, error) {
	return a.nextTxHash(), nil
}

func (a *Adapter) FinalizeBlock(ctx context.Context, blockNumber uint64) (string, error) {
	return a.nextTxHash(), nil
}

func (a *Adapter) FetchChallenges(ctx context.Context, blockNumber uint64) ([]chainadapter.Challenge, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.challenges[blockNumber], nil
}

func (a *Adapter) CreateChallenge(ctx context.Context, blockNumber uint64, kind chainadapter.ChallengeKind, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := fmt.Sprintf("chal-%d-%d", blockNumber, len(a.challenges[blockNumber]))
	a.challenges[blockNumber] = append(a.challenges[blockNumber], chainadapter.Challenge{
		ID: id, BlockNumber: blockNumber, Kind: kind, Data: data,
	})
	return id, nil
}

func (a *Adapter) CanonicalStateDescriptor(ctx context.Context, blockNumber uint64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[blockNumber]
	if !ok {
		return "", fmt.Errorf("memadapter: no block %d", blockNumber)
	}
	return b.StateRoot, nil
}

func (a *Adapter) VerifySignature(ctx context.Context, msgHash, sig, principal string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := msgHash + "|" + sig + "|" + principal
	if ok, known := a.validSigs[key]; known {
		return ok, nil
	}
	return true, nil
}

func (a *Adapter) Close() error { return nil }

var _ chainadapter.Adapter = (*Adapter)(nil)
