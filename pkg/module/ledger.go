// SPDX-License-Identifier: MPL-2.0

package module

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLedgerClosed is returned by Register once the ledger started draining.
var ErrLedgerClosed = errors.New("resource ledger is closed")

type (
	// Handle identifies one ledger entry. The zero Handle is never issued.
	Handle uint64

	// RevokeFunc releases an acquired resource.
	RevokeFunc func()

	// Entry is a read-only view of a ledger entry.
	Entry struct {
		Handle Handle
		Kind   Kind
		Label  string
	}

	// RevokeError reports a revocation that panicked or could not be
	// dispatched to the affinity executor.
	RevokeError struct {
		Entry Entry
		Err   error
	}

	// Ledger is the ordered record of resources acquired by one module.
	//
	// Entries are popped under the lock and revoked outside of it, so every
	// entry is revoked at most once no matter how Remove, Release and Drain
	// interleave. A nil affinity revokes every kind inline.
	Ledger struct {
		mu       sync.Mutex
		next     Handle
		order    []Handle
		entries  map[Handle]*ledgerEntry
		closed   bool
		affinity Affinity
	}

	ledgerEntry struct {
		Entry
		revoke RevokeFunc
	}
)

func (e *RevokeError) Error() string {
	return fmt.Sprintf("revoke %s %q: %v", e.Entry.Kind, e.Entry.Label, e.Err)
}

func (e *RevokeError) Unwrap() error { return e.Err }

// NewLedger returns an empty ledger revoking non thread-safe kinds on affinity.
func NewLedger(affinity Affinity) *Ledger {
	return &Ledger{
		entries:  make(map[Handle]*ledgerEntry),
		affinity: affinity,
	}
}

// Register appends a resource. It fails once the ledger is closed, in which
// case the caller still owns the resource and must release it.
func (l *Ledger) Register(kind Kind, label string, revoke RevokeFunc) (Handle, error) {
	if err := kind.Validate(); err != nil {
		return 0, err
	}
	if revoke == nil {
		return 0, errors.New("register resource: nil revoke function")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrLedgerClosed
	}
	l.next++
	h := l.next
	l.entries[h] = &ledgerEntry{Entry: Entry{Handle: h, Kind: kind, Label: label}, revoke: revoke}
	l.order = append(l.order, h)
	return h, nil
}

// Remove drops an entry without revoking it. Resources that died on their
// own (a one-shot timer that fired) use this. It reports whether the entry
// was still present.
func (l *Ledger) Remove(h Handle) bool {
	_, ok := l.take(h)
	return ok
}

// Release removes an entry and revokes it. It reports false when the entry
// was already gone, in which case nothing is revoked.
func (l *Ledger) Release(ctx context.Context, h Handle) (bool, error) {
	e, ok := l.take(h)
	if !ok {
		return false, nil
	}
	return true, l.revoke(ctx, e)
}

// Drain closes the ledger and revokes every remaining entry in
// registration order. Revocation failures do not stop the drain; they are
// joined into the returned error.
func (l *Ledger) Drain(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	var errs []error
	for {
		e, ok := l.popFront()
		if !ok {
			break
		}
		if err := l.revoke(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of live entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns the live entries in registration order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, h := range l.order {
		if e, ok := l.entries[h]; ok {
			out = append(out, e.Entry)
		}
	}
	return out
}

func (l *Ledger) take(h Handle) (*ledgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[h]
	if !ok {
		return nil, false
	}
	delete(l.entries, h)
	// order is compacted lazily by popFront
	return e, true
}

func (l *Ledger) popFront() (*ledgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.order) > 0 {
		h := l.order[0]
		l.order = l.order[1:]
		if e, ok := l.entries[h]; ok {
			delete(l.entries, h)
			return e, true
		}
	}
	return nil, false
}

func (l *Ledger) revoke(ctx context.Context, e *ledgerEntry) error {
	var panicErr error
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				panicErr = fmt.Errorf("panic: %v", r)
			}
		}()
		e.revoke()
	}

	var dispatchErr error
	if e.Kind.ThreadSafe() || l.affinity == nil {
		run()
	} else if err := l.affinity.Do(context.WithoutCancel(ctx), run); err != nil {
		// the executor is gone; the resource must still die
		dispatchErr = err
		run()
	}
	if err := errors.Join(dispatchErr, panicErr); err != nil {
		return &RevokeError{Entry: e.Entry, Err: err}
	}
	return nil
}
