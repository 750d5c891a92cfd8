package cas

import (
	"context"
	"errors"
	"sync"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	"github.com/cenkalti/backoff/v4"

	"github.com/weftworks/loom/pkg/constant"
)

// Store is one content-addressed backend. Implementations are
// write-once: a second Put of the same hash is a no-op.
type Store interface {
	Put(ctx context.Context, hash Hash, value []byte) error
	Get(ctx context.Context, hash Hash) ([]byte, bool, error)
}

// Layered is a stack of stores consulted top-to-bottom on reads, with
// misses back-filled upward. Writes land in the top (memory) tier
// synchronously and are journaled to the persistent tiers by a
// background writer; Flush blocks until the journal drains. Callers
// must Flush before publishing any address that references the writes.
type Layered struct {
	tiers []Store

	mu      sync.Mutex
	journal []journalEntry
	kick    chan struct{}
	done    chan struct{}
	flushed *sync.Cond
	failed  error

	maxRetryElapsed time.Duration
}

type journalEntry struct {
	hash  Hash
	value []byte
}

// NewLayered builds the stack. The first tier is treated as the
// synchronous cache; the rest are persistent and fed by the journal.
func NewLayered(maxRetryElapsed time.Duration, tiers ...Store) *Layered {
	l := &Layered{
		tiers:           tiers,
		kick:            make(chan struct{}, 1),
		done:            make(chan struct{}),
		maxRetryElapsed: maxRetryElapsed,
	}
	l.flushed = sync.NewCond(&l.mu)

	go l.writeLoop()

	return l
}

// Put stores value under its blake3 digest and returns the address.
func (l *Layered) Put(ctx context.Context, value []byte) (Hash, error) {
	hash := HashBytes(value)

	if err := l.PutAt(ctx, hash, value); err != nil {
		return ZeroHash, err
	}

	return hash, nil
}

// PutAt stores value under an already-computed address.
func (l *Layered) PutAt(ctx context.Context, hash Hash, value []byte) error {
	l.mu.Lock()

	if l.failed != nil {
		err := l.failed
		l.mu.Unlock()

		return err
	}

	l.journal = append(l.journal, journalEntry{hash: hash, value: value})
	l.mu.Unlock()

	if len(l.tiers) > 0 {
		if err := l.tiers[0].Put(ctx, hash, value); err != nil {
			return err
		}
	}

	select {
	case l.kick <- struct{}{}:
	default:
	}

	return nil
}

// Get reads the bytes at hash, consulting tiers top-down and
// back-filling the faster tiers on a hit. The returned bytes are
// digest-verified; a mismatch is corruption and fatal for the caller.
func (l *Layered) Get(ctx context.Context, hash Hash) ([]byte, bool, error) {
	logger := libCommons.NewLoggerFromContext(ctx)

	for i, tier := range l.tiers {
		value, found, err := tier.Get(ctx, hash)
		if err != nil {
			logger.Warnf("cas tier %d read failed for %s: %v", i, hash, err)

			continue
		}

		if !found {
			continue
		}

		if HashBytes(value) != hash {
			return nil, false, CorruptionError{Expected: hash.String(), Actual: HashBytes(value).String()}
		}

		for j := i - 1; j >= 0; j-- {
			if err := l.tiers[j].Put(ctx, hash, value); err != nil {
				logger.Warnf("cas tier %d back-fill failed for %s: %v", j, hash, err)
			}
		}

		return value, true, nil
	}

	return nil, false, nil
}

// PutTyped encodes v with the canonical codec and stores it.
func (l *Layered) PutTyped(ctx context.Context, v any) (Hash, error) {
	encoded, err := Encode(v)
	if err != nil {
		return ZeroHash, err
	}

	return l.Put(ctx, encoded)
}

// GetTyped reads and decodes the value at hash into out. The boolean
// reports whether the address was present.
func (l *Layered) GetTyped(ctx context.Context, hash Hash, out any) (bool, error) {
	encoded, found, err := l.Get(ctx, hash)
	if err != nil || !found {
		return found, err
	}

	if err := Decode(encoded, out); err != nil {
		return true, err
	}

	return true, nil
}

// Flush blocks until every journaled write reached the persistent
// tiers, or returns the terminal journal error.
func (l *Layered) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.journal) > 0 && l.failed == nil {
		l.flushed.Wait()
	}

	return l.failed
}

// Close stops the background writer after draining the journal.
func (l *Layered) Close(ctx context.Context) error {
	err := l.Flush(ctx)

	close(l.done)

	return err
}

func (l *Layered) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case <-l.kick:
		}

		for {
			l.mu.Lock()

			if len(l.journal) == 0 || l.failed != nil {
				l.flushed.Broadcast()
				l.mu.Unlock()

				break
			}

			entry := l.journal[0]
			l.mu.Unlock()

			if err := l.persist(entry); err != nil {
				l.mu.Lock()
				l.failed = PersistenceError(err)
				l.flushed.Broadcast()
				l.mu.Unlock()

				break
			}

			l.mu.Lock()
			l.journal = l.journal[1:]

			if len(l.journal) == 0 {
				l.flushed.Broadcast()
			}
			l.mu.Unlock()
		}
	}
}

func (l *Layered) persist(entry journalEntry) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = l.maxRetryElapsed

	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, tier := range l.tiers[1:] {
			if err := tier.Put(ctx, entry.hash, entry.value); err != nil {
				return err
			}
		}

		return nil
	}, policy)
}

// PersistenceError wraps exhausted-retry persistence failures under the
// PersistenceUnavailable code so callers can tell them apart from
// corruption.
func PersistenceError(err error) error {
	return errors.Join(constant.ErrPersistenceUnavailable, err)
}

// CorruptionError is raised when stored bytes no longer match their
// address. Mirrors pkg.CorruptionError but lives here so the store has
// no dependency on the business-error layer.
type CorruptionError struct {
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e CorruptionError) Error() string {
	return "content hash mismatch: stored under " + e.Expected + " but hashes to " + e.Actual
}

// IsCorruption reports whether err is a digest-verification failure.
func IsCorruption(err error) bool {
	var c CorruptionError

	return errors.As(err, &c)
}
