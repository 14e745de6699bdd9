package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestLoadEmpty(t *testing.T) {
	db, _ := openTemp(t)

	snap, err := db.Load()
	require.NoError(t, err)
	require.Empty(t, snap.Accounts)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db, path := openTemp(t)

	want := &Snapshot{Accounts: []AccountRecord{
		{
			ID: 0, Username: "alice", Password: "secret",
			Friends: []FriendRecord{{ID: 1, Username: "bob", Messages: []string{"m1", "m2 with spaces", ""}}},
		},
		{
			ID: 1, Username: "bob", Password: "hunter2",
			Friends:  []FriendRecord{{ID: 0, Username: "alice"}},
			Requests: []RequestRecord{{ID: 2, Username: "carol"}},
		},
		{ID: 2, Username: "carol", Password: "pw3"},
	}}
	require.NoError(t, db.Save(want))
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, got.Accounts, 3)
	require.Equal(t, want.Accounts[0], got.Accounts[0])
	require.Equal(t, want.Accounts[1], got.Accounts[1])
	require.Equal(t, "carol", got.Accounts[2].Username)
	require.Empty(t, got.Accounts[2].Friends)
	require.Empty(t, got.Accounts[2].Requests)
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	db, _ := openTemp(t)

	require.NoError(t, db.Save(&Snapshot{Accounts: []AccountRecord{
		{ID: 0, Username: "alice", Password: "one", Requests: []RequestRecord{{ID: 1, Username: "bob"}}},
		{ID: 1, Username: "bob", Password: "two"},
	}}))
	require.NoError(t, db.Save(&Snapshot{Accounts: []AccountRecord{
		{ID: 0, Username: "alice", Password: "one", Friends: []FriendRecord{{ID: 1, Username: "bob"}}},
		{ID: 1, Username: "bob", Password: "two", Friends: []FriendRecord{{ID: 0, Username: "alice"}}},
	}}))

	got, err := db.Load()
	require.NoError(t, err)
	require.Empty(t, got.Accounts[0].Requests)
	require.Len(t, got.Accounts[0].Friends, 1)
}

func TestLoadRejectsSparseIDs(t *testing.T) {
	db, _ := openTemp(t)

	_, err := db.conn.Exec("INSERT INTO accounts (id, username, password) VALUES (3, 'alice', 'pw1')")
	require.NoError(t, err)

	_, err = db.Load()
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenMovesCorruptFileAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a sqlite database "), 200), 0o644))

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	snap, err := db.Load()
	require.NoError(t, err)
	require.Empty(t, snap.Accounts)

	_, err = os.Stat(path + ".corrupt")
	require.NoError(t, err)
}
