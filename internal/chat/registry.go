package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/andy6609/friends-chat-server/internal/store"
)

// Registry owns every account. Accounts are indexed by id, ids are dense and
// only ever appended. The registry lock guards the two indexes; account state
// has its own lock, always taken after the registry lock and never the other
// way round.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Account
	accounts []*Account
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]*Account),
		logger: logger,
	}
}

func (r *Registry) Lookup(username string) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.byName[username]
	return acc, ok
}

// Account returns the account with the given id. Ids come from this registry,
// so an unknown id is a programming error and panics. Use Find for ids that
// come off the wire.
func (r *Registry) Account(id int) *Account {
	acc, ok := r.Find(id)
	if !ok {
		panic(fmt.Sprintf("chat: account id %d out of range", id))
	}
	return acc
}

func (r *Registry) Find(id int) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.accounts) {
		return nil, false
	}
	return r.accounts[id], true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Register creates an account with the next id. The uniqueness check and the
// insert happen under one lock, so concurrent registrations of one name have
// exactly one winner.
func (r *Registry) Register(username, password string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[username]; exists {
		return 0, ErrUsernameTaken
	}
	id := len(r.accounts)
	acc := newAccount(id, username, password)
	r.accounts = append(r.accounts, acc)
	r.byName[username] = acc
	RegisteredAccounts.Inc()

	r.logger.Info("account registered", "username", username, "id", id)
	return id, nil
}

func (r *Registry) Authenticate(username, password string) (int, error) {
	acc, ok := r.Lookup(username)
	if !ok {
		return 0, ErrNoSuchUser
	}
	if acc.Password != password {
		return 0, ErrWrongPassword
	}
	return acc.ID, nil
}

// Snapshot copies every account under the registry read lock. Registrations
// wait for it; commands on accounts only wait while their own account is
// being copied.
func (r *Registry) Snapshot() *store.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &store.Snapshot{Accounts: make([]store.AccountRecord, 0, len(r.accounts))}
	for _, acc := range r.accounts {
		snap.Accounts = append(snap.Accounts, acc.record())
	}
	return snap
}

// Restore loads snap into an empty registry. Nothing is loaded if snap is
// inconsistent.
func (r *Registry) Restore(snap *store.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.accounts) > 0 {
		return errors.New("restore into non-empty registry")
	}
	if err := validateSnapshot(snap); err != nil {
		return err
	}

	queued := 0
	for _, rec := range snap.Accounts {
		acc := accountFromRecord(rec)
		r.accounts = append(r.accounts, acc)
		r.byName[acc.Username] = acc
		for _, f := range rec.Friends {
			queued += len(f.Messages)
		}
	}
	RegisteredAccounts.Add(float64(len(snap.Accounts)))
	QueuedMessages.Add(float64(queued))

	r.logger.Info("registry restored", "accounts", len(snap.Accounts), "queued_messages", queued)
	return nil
}

func validateSnapshot(snap *store.Snapshot) error {
	n := len(snap.Accounts)
	names := make(map[string]struct{}, n)
	for i, rec := range snap.Accounts {
		if rec.ID != i {
			return fmt.Errorf("%w: account %q has id %d at position %d", ErrCorruptSnapshot, rec.Username, rec.ID, i)
		}
		if _, dup := names[rec.Username]; dup {
			return fmt.Errorf("%w: duplicate username %q", ErrCorruptSnapshot, rec.Username)
		}
		names[rec.Username] = struct{}{}

		friends := make(map[int]struct{}, len(rec.Friends))
		for _, f := range rec.Friends {
			if f.ID < 0 || f.ID >= n {
				return fmt.Errorf("%w: account %d has unknown friend %d", ErrCorruptSnapshot, i, f.ID)
			}
			friends[f.ID] = struct{}{}
		}
		for _, req := range rec.Requests {
			if req.ID < 0 || req.ID >= n {
				return fmt.Errorf("%w: account %d has request from unknown %d", ErrCorruptSnapshot, i, req.ID)
			}
			if _, ok := friends[req.ID]; ok {
				return fmt.Errorf("%w: account %d has %d as both friend and requester", ErrCorruptSnapshot, i, req.ID)
			}
		}
	}
	return nil
}
