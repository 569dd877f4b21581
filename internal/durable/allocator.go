package durable

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/mediadex/pkg/types"
)

// Attribute key layout. Next-row-id keys are volume scoped and, for non-owner
// users, suffixed by ".u<uid>". The dictionary is append-only; existing key
// shapes never change meaning.
const (
	nextRowIDPrefix = attrNamespace + "nextrowid."
	sessionKey      = attrNamespace + "session"
	userKeyInfix    = ".u"
)

// Allocator maintains durable "next row id" counters per volume and user, and
// the device session id. Counters are monotonic: Advance never lowers a
// stored value.
type Allocator struct {
	log   *zap.Logger
	store Store
}

// NewAllocator returns an allocator over the given durability store.
func NewAllocator(log *zap.Logger, store Store) *Allocator {
	return &Allocator{log: log, store: store}
}

// nextRowIDKey builds the attribute name for a volume/user counter. User 0 is
// the device owner and keeps the historical unsuffixed key.
func nextRowIDKey(volume string, userID int) string {
	key := nextRowIDPrefix + volume
	if userID != 0 {
		key += fmt.Sprintf("%s%d", userKeyInfix, userID)
	}
	return key
}

// NextRowID returns the stored next row id for the volume/user, or 0 when no
// counter has been written yet.
func (a *Allocator) NextRowID(volume string, userID int) (int64, error) {
	raw, err := a.store.Get(nextRowIDKey(volume, userID))
	if err != nil {
		if err == types.ErrNotFound {
			return 0, nil
		}
		return 0, types.CounterUnsupportedError.Wrap(err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, types.CounterUnsupportedError.New("malformed counter %q: %v", raw, err)
	}
	return id, nil
}

// Advance stores max(current, candidate) for the volume/user counter. A
// stored value is never decreased; callers may pass stale candidates freely.
func (a *Allocator) Advance(volume string, userID int, candidate int64) error {
	current, err := a.NextRowID(volume, userID)
	if err != nil {
		return err
	}
	if candidate <= current {
		return nil
	}
	key := nextRowIDKey(volume, userID)
	if err := a.store.Set(key, strconv.FormatInt(candidate, 10)); err != nil {
		return types.CounterUnsupportedError.Wrap(err)
	}
	a.log.Debug("advanced durable row id counter",
		zap.String("volume", volume),
		zap.Int("user", userID),
		zap.Int64("next_row_id", candidate))
	return nil
}

// ListInvalidUserKeys returns stored per-user next-row-id keys whose user id
// is not in validUserIDs, for garbage collection after a user is removed from
// the device. Unsuffixed owner keys are never reported.
func (a *Allocator) ListInvalidUserKeys(validUserIDs []int) ([]string, error) {
	keys, err := a.store.List()
	if err != nil {
		return nil, types.CounterUnsupportedError.Wrap(err)
	}
	valid := make(map[int]bool, len(validUserIDs))
	for _, id := range validUserIDs {
		valid[id] = true
	}

	var invalid []string
	for _, key := range keys {
		if !strings.HasPrefix(key, nextRowIDPrefix) {
			continue
		}
		idx := strings.LastIndex(key, userKeyInfix)
		if idx < 0 {
			continue // owner key, no user suffix
		}
		uid, err := strconv.Atoi(key[idx+len(userKeyInfix):])
		if err != nil {
			continue // volume name happens to contain ".u"
		}
		if !valid[uid] {
			invalid = append(invalid, key)
		}
	}
	return invalid, nil
}

// RemoveKey deletes a stored counter key, typically one returned by
// ListInvalidUserKeys.
func (a *Allocator) RemoveKey(key string) error {
	return a.store.Remove(key)
}

// SessionID returns the persisted device session id, creating it on first
// use.
func (a *Allocator) SessionID() (string, error) {
	id, err := a.store.Get(sessionKey)
	if err == nil {
		return id, nil
	}
	if err != types.ErrNotFound {
		return "", types.CounterUnsupportedError.Wrap(err)
	}
	id = uuid.New().String()
	if err := a.store.Set(sessionKey, id); err != nil {
		return "", types.CounterUnsupportedError.Wrap(err)
	}
	return id, nil
}
