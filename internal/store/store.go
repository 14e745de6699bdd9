// Package store persists point-in-time snapshots of the account registry in
// a SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Snapshot is a loss-less copy of every account and its session state.
// Accounts are ordered by id and ids are dense.
type Snapshot struct {
	Accounts []AccountRecord
}

type AccountRecord struct {
	ID       int
	Username string
	Password string
	Friends  []FriendRecord
	Requests []RequestRecord
}

// FriendRecord holds a friend and the messages from that friend not yet
// pulled by the owner, oldest first.
type FriendRecord struct {
	ID       int
	Username string
	Messages []string
}

type RequestRecord struct {
	ID       int
	Username string
}

var ErrCorrupt = errors.New("snapshot is corrupt")

type DB struct {
	conn *sql.DB
	path string
}

// Open opens the snapshot database at path, creating it if needed. A file
// that cannot be initialised as a database is moved aside to path+".corrupt"
// and a fresh one is created in its place.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	db, err := open(path)
	if err == nil {
		return db, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, err
	}
	if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil {
		return nil, fmt.Errorf("%w (move aside: %v)", err, renameErr)
	}
	return open(path)
}

func open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	db := &DB{conn: conn, path: path}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init snapshot schema: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			owner_id INTEGER NOT NULL REFERENCES accounts(id),
			friend_id INTEGER NOT NULL,
			username TEXT NOT NULL,
			PRIMARY KEY (owner_id, friend_id)
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			owner_id INTEGER NOT NULL REFERENCES accounts(id),
			from_id INTEGER NOT NULL,
			username TEXT NOT NULL,
			PRIMARY KEY (owner_id, from_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			owner_id INTEGER NOT NULL,
			friend_id INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (owner_id, friend_id, seq),
			FOREIGN KEY (owner_id, friend_id) REFERENCES friends(owner_id, friend_id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Save replaces the stored snapshot with snap in a single transaction.
func (db *DB) Save(snap *Snapshot) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "requests", "friends", "accounts"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insertAccount, err := tx.Prepare("INSERT INTO accounts (id, username, password) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer insertAccount.Close()
	insertFriend, err := tx.Prepare("INSERT INTO friends (owner_id, friend_id, username) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer insertFriend.Close()
	insertRequest, err := tx.Prepare("INSERT INTO requests (owner_id, from_id, username) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer insertRequest.Close()
	insertMessage, err := tx.Prepare("INSERT INTO messages (owner_id, friend_id, seq, text) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer insertMessage.Close()

	for _, acc := range snap.Accounts {
		if _, err := insertAccount.Exec(acc.ID, acc.Username, acc.Password); err != nil {
			return fmt.Errorf("save account %d: %w", acc.ID, err)
		}
		for _, f := range acc.Friends {
			if _, err := insertFriend.Exec(acc.ID, f.ID, f.Username); err != nil {
				return fmt.Errorf("save friend %d of %d: %w", f.ID, acc.ID, err)
			}
			for seq, text := range f.Messages {
				if _, err := insertMessage.Exec(acc.ID, f.ID, seq, text); err != nil {
					return fmt.Errorf("save message %d/%d: %w", acc.ID, f.ID, err)
				}
			}
		}
		for _, r := range acc.Requests {
			if _, err := insertRequest.Exec(acc.ID, r.ID, r.Username); err != nil {
				return fmt.Errorf("save request %d of %d: %w", r.ID, acc.ID, err)
			}
		}
	}

	return tx.Commit()
}

// Load reads the stored snapshot. An empty database yields an empty snapshot.
// Non-dense account ids yield ErrCorrupt.
func (db *DB) Load() (*Snapshot, error) {
	rows, err := db.conn.Query("SELECT id, username, password FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{}
	for rows.Next() {
		var acc AccountRecord
		if err := rows.Scan(&acc.ID, &acc.Username, &acc.Password); err != nil {
			rows.Close()
			return nil, err
		}
		if acc.ID != len(snap.Accounts) {
			rows.Close()
			return nil, fmt.Errorf("%w: account id %d at position %d", ErrCorrupt, acc.ID, len(snap.Accounts))
		}
		snap.Accounts = append(snap.Accounts, acc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.loadFriends(snap); err != nil {
		return nil, err
	}
	if err := db.loadRequests(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (db *DB) loadFriends(snap *Snapshot) error {
	rows, err := db.conn.Query("SELECT owner_id, friend_id, username FROM friends ORDER BY owner_id, friend_id")
	if err != nil {
		return err
	}
	defer rows.Close()

	index := make(map[[2]int]*FriendRecord)
	for rows.Next() {
		var owner int
		var f FriendRecord
		if err := rows.Scan(&owner, &f.ID, &f.Username); err != nil {
			return err
		}
		if owner < 0 || owner >= len(snap.Accounts) {
			return fmt.Errorf("%w: friend row for unknown account %d", ErrCorrupt, owner)
		}
		acc := &snap.Accounts[owner]
		acc.Friends = append(acc.Friends, f)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range snap.Accounts {
		acc := &snap.Accounts[i]
		for j := range acc.Friends {
			index[[2]int{acc.ID, acc.Friends[j].ID}] = &acc.Friends[j]
		}
	}

	msgRows, err := db.conn.Query("SELECT owner_id, friend_id, text FROM messages ORDER BY owner_id, friend_id, seq")
	if err != nil {
		return err
	}
	defer msgRows.Close()
	for msgRows.Next() {
		var owner, friend int
		var text string
		if err := msgRows.Scan(&owner, &friend, &text); err != nil {
			return err
		}
		f, ok := index[[2]int{owner, friend}]
		if !ok {
			return fmt.Errorf("%w: message for unknown friend %d of %d", ErrCorrupt, friend, owner)
		}
		f.Messages = append(f.Messages, text)
	}
	return msgRows.Err()
}

func (db *DB) loadRequests(snap *Snapshot) error {
	rows, err := db.conn.Query("SELECT owner_id, from_id, username FROM requests ORDER BY owner_id, from_id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var owner int
		var r RequestRecord
		if err := rows.Scan(&owner, &r.ID, &r.Username); err != nil {
			return err
		}
		if owner < 0 || owner >= len(snap.Accounts) {
			return fmt.Errorf("%w: request row for unknown account %d", ErrCorrupt, owner)
		}
		snap.Accounts[owner].Requests = append(snap.Accounts[owner].Requests, r)
	}
	return rows.Err()
}
