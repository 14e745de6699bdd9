package chat

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/andy6609/friends-chat-server/internal/store"
)

func TestRegistry_RegisterRejectsDuplicateUsername(t *testing.T) {
	r := NewRegistry(nil)

	id, err := r.Register("alice", "secret")
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if id != 0 {
		t.Fatalf("expected id 0, got %d", id)
	}

	if _, err := r.Register("alice", "other"); err != ErrUsernameTaken {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 account, got %d", r.Len())
	}
}

func TestRegistry_LookupReturnsStableIDs(t *testing.T) {
	r := NewRegistry(nil)

	names := []string{"alice", "bob", "carol", "dave"}
	for i, name := range names {
		id, err := r.Register(name, "pw"+name)
		if err != nil {
			t.Fatalf("register(%s): %v", name, err)
		}
		if id != i {
			t.Fatalf("register(%s): expected id %d, got %d", name, i, id)
		}
	}

	for round := 0; round < 2; round++ {
		for i, name := range names {
			acc, ok := r.Lookup(name)
			if !ok {
				t.Fatalf("lookup(%s) failed", name)
			}
			if acc.ID != i || acc.Username != name {
				t.Fatalf("lookup(%s) = %d/%s", name, acc.ID, acc.Username)
			}
			if r.Account(i) != acc {
				t.Fatalf("account(%d) does not match lookup(%s)", i, name)
			}
		}
	}

	if _, ok := r.Lookup("eve"); ok {
		t.Fatal("lookup of unknown name succeeded")
	}
}

func TestRegistry_ConcurrentRegisterSameName(t *testing.T) {
	r := NewRegistry(nil)

	const workers = 32
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.Register("alice", "secret")
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				wins++
			case ErrUsernameTaken:
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || losses != workers-1 {
		t.Fatalf("expected 1 win and %d losses, got %d/%d", workers-1, wins, losses)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 account, got %d", r.Len())
	}
}

func TestRegistry_ConcurrentRegisterDistinctNamesGetDenseIDs(t *testing.T) {
	r := NewRegistry(nil)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Register(fmt.Sprintf("user%02d", i), "secret"); err != nil {
				t.Errorf("register user%02d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < workers; i++ {
		acc, ok := r.Lookup(fmt.Sprintf("user%02d", i))
		if !ok {
			t.Fatalf("user%02d missing", i)
		}
		if acc.ID < 0 || acc.ID >= workers || seen[acc.ID] {
			t.Fatalf("bad or duplicate id %d", acc.ID)
		}
		seen[acc.ID] = true
	}
}

func TestRegistry_Authenticate(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "alice", "secret")
	bobID := mustRegister(t, r, "bob", "hunter2")

	if _, err := r.Authenticate("nobody", "x"); err != ErrNoSuchUser {
		t.Fatalf("expected ErrNoSuchUser, got %v", err)
	}
	if _, err := r.Authenticate("bob", "secret"); err != ErrWrongPassword {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	id, err := r.Authenticate("bob", "hunter2")
	if err != nil || id != bobID {
		t.Fatalf("expected %d/nil, got %d/%v", bobID, id, err)
	}
}

func TestRegistry_AccountPanicsOnUnknownID(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "alice", "secret")

	if _, ok := r.Find(1); ok {
		t.Fatal("find(1) succeeded")
	}
	if _, ok := r.Find(-1); ok {
		t.Fatal("find(-1) succeeded")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	r.Account(1)
}

func TestRegistry_SnapshotRestore(t *testing.T) {
	r := NewRegistry(nil)
	alice := r.Account(mustRegister(t, r, "alice", "secret"))
	bob := r.Account(mustRegister(t, r, "bob", "hunter2"))
	carol := r.Account(mustRegister(t, r, "carol", "pw3"))

	befriend(t, alice, bob)
	alice.EnqueueMessage(bob.ID, "m1")
	alice.EnqueueMessage(bob.ID, "m2")
	carol.ReceiveFriendRequest(alice.ID, alice.Username)

	snap := r.Snapshot()

	restored := NewRegistry(nil)
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Len() != 3 {
		t.Fatalf("expected 3 accounts, got %d", restored.Len())
	}

	a2, _ := restored.Lookup("alice")
	if a2.ID != 0 || a2.Password != "secret" {
		t.Fatalf("alice restored as %d/%q", a2.ID, a2.Password)
	}
	if !a2.IsFriend(bob.ID) || a2.Unread(bob.ID) != 2 {
		t.Fatalf("alice lost friend or messages: friend=%v unread=%d", a2.IsFriend(bob.ID), a2.Unread(bob.ID))
	}
	if got := a2.record().Friends[0].Messages; len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("expected [m1 m2] after restore, got %q", got)
	}
	c2, _ := restored.Lookup("carol")
	if !c2.HasPendingRequest(alice.ID) {
		t.Fatal("carol lost pending request")
	}

	// new registrations continue after the restored ids
	if id := mustRegister(t, restored, "dave", "pw4"); id != 3 {
		t.Fatalf("expected id 3, got %d", id)
	}
}

func TestRegistry_RestoreRejectsInconsistentSnapshot(t *testing.T) {
	cases := map[string]*store.Snapshot{
		"sparse ids": {Accounts: []store.AccountRecord{
			{ID: 1, Username: "alice", Password: "pw1"},
		}},
		"duplicate name": {Accounts: []store.AccountRecord{
			{ID: 0, Username: "alice", Password: "pw1"},
			{ID: 1, Username: "alice", Password: "pw2"},
		}},
		"unknown friend": {Accounts: []store.AccountRecord{
			{ID: 0, Username: "alice", Password: "pw1", Friends: []store.FriendRecord{{ID: 7, Username: "ghost"}}},
		}},
		"friend and request": {Accounts: []store.AccountRecord{
			{
				ID: 0, Username: "alice", Password: "pw1",
				Friends:  []store.FriendRecord{{ID: 1, Username: "bob"}},
				Requests: []store.RequestRecord{{ID: 1, Username: "bob"}},
			},
			{ID: 1, Username: "bob", Password: "pw2"},
		}},
	}
	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewRegistry(nil)
			err := r.Restore(snap)
			if !errors.Is(err, ErrCorruptSnapshot) {
				t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
			}
			if r.Len() != 0 {
				t.Fatalf("registry not empty after failed restore: %d", r.Len())
			}
		})
	}
}

func mustRegister(t *testing.T, r *Registry, username, password string) int {
	t.Helper()
	id, err := r.Register(username, password)
	if err != nil {
		t.Fatalf("register(%s) error: %v", username, err)
	}
	return id
}

// befriend runs the request/accept choreography from a to b.
func befriend(t *testing.T, a, b *Account) {
	t.Helper()
	if !b.ReceiveFriendRequest(a.ID, a.Username) {
		t.Fatalf("%s could not request %s", a.Username, b.Username)
	}
	if _, ok := b.AcceptRequest(a.ID); !ok {
		t.Fatalf("%s could not accept %s", b.Username, a.Username)
	}
	a.ConfirmFriendAdded(b.ID, b.Username)
}
