package chat

import (
	"maps"
	"slices"
	"sync"

	"github.com/andy6609/friends-chat-server/internal/protocol"
	"github.com/andy6609/friends-chat-server/internal/store"
)

// Friend is an established relation seen from one side, together with the
// messages from that friend the owner has not pulled yet.
type Friend struct {
	ID       int
	Username string
	Messages []string
}

// Account is a registered identity and its session state. ID, Username and
// Password never change after registration. Everything else is guarded by mu,
// and every push to the bound client happens while mu is held so that
// notifications reach the client in operation order.
type Account struct {
	ID       int
	Username string
	Password string

	mu       sync.Mutex
	client   *Client
	friends  map[int]*Friend
	requests map[int]string // requester id -> requester username
}

func newAccount(id int, username, password string) *Account {
	return &Account{
		ID:       id,
		Username: username,
		Password: password,
		friends:  make(map[int]*Friend),
		requests: make(map[int]string),
	}
}

// Bind makes c the live connection of the account, closing any previous one,
// and sends the friends list and pending request count to c.
func (a *Account) Bind(c *Client) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil && a.client != c {
		a.client.Close()
	} else if a.client == nil {
		ConnectedClients.Inc()
	}
	a.client = c
	a.push(protocol.FriendsList(a.friendEntries()))
	a.push(protocol.NumberOfRequests(len(a.requests)))
}

// Unbind detaches c if it is still the bound client. A handler whose socket
// was replaced by a newer login gets false.
func (a *Account) Unbind(c *Client) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != c || c == nil {
		return false
	}
	a.client = nil
	ConnectedClients.Dec()
	return true
}

func (a *Account) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client != nil
}

func (a *Account) CanRequest(otherID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canRequest(otherID)
}

func (a *Account) canRequest(otherID int) bool {
	_, friend := a.friends[otherID]
	_, pending := a.requests[otherID]
	return !friend && !pending
}

// ReceiveFriendRequest records a request from fromID unless the two are
// already friends or a request from fromID is already pending. It reports
// whether the request was recorded.
func (a *Account) ReceiveFriendRequest(fromID int, fromUsername string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.canRequest(fromID) {
		return false
	}
	a.requests[fromID] = fromUsername
	a.push(protocol.NumberOfRequests(len(a.requests)))
	return true
}

// AcceptRequest turns a pending request from fromID into a friendship. It
// returns the peer's username and true when the two are friends afterwards,
// including when they already were; the NewFriend notification is pushed in
// both cases. For an id that is neither pending nor a friend only the request
// count is pushed.
func (a *Account) AcceptRequest(fromID int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	username, pending := a.requests[fromID]
	if pending {
		delete(a.requests, fromID)
		a.friends[fromID] = &Friend{ID: fromID, Username: username}
	} else if f, ok := a.friends[fromID]; ok {
		username = f.Username
	} else {
		a.push(protocol.NumberOfRequests(len(a.requests)))
		return "", false
	}
	a.push(protocol.NewFriend(username, fromID))
	a.push(protocol.NumberOfRequests(len(a.requests)))
	return username, true
}

// ConfirmFriendAdded is called on the requester once otherID accepted. The
// friend is added unless already present or a request from otherID is still
// pending here; NewFriend is pushed regardless.
func (a *Account) ConfirmFriendAdded(otherID int, otherUsername string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.canRequest(otherID) {
		a.friends[otherID] = &Friend{ID: otherID, Username: otherUsername}
	}
	a.push(protocol.NewFriend(otherUsername, otherID))
}

// EnqueueMessage appends text to the queue of messages from fromID. Messages
// from accounts that are not friends are dropped.
func (a *Account) EnqueueMessage(fromID int, text string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.friends[fromID]
	if !ok {
		return false
	}
	f.Messages = append(f.Messages, text)
	QueuedMessages.Inc()
	a.push(protocol.UnreadMessages(fromID, len(f.Messages)))
	return true
}

// PopFirstMessage pushes the oldest message from otherID to the bound client
// followed by the new unread count. The message leaves the queue only once
// the NewMessage line was queued for writing; there is no acknowledgement
// beyond that, so a connection dying before the write reaches the peer
// loses it.
func (a *Account) PopFirstMessage(otherID int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.friends[otherID]
	if !ok || len(f.Messages) == 0 {
		return "", false
	}
	text := f.Messages[0]
	if !a.push(protocol.NewMessage(otherID, text)) {
		return "", false
	}
	f.Messages[0] = ""
	f.Messages = f.Messages[1:]
	QueuedMessages.Dec()
	a.push(protocol.UnreadMessages(otherID, len(f.Messages)))
	return text, true
}

func (a *Account) Notify(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.push(protocol.Notification(text))
}

func (a *Account) SendRequestsList() {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := make([]protocol.RequestEntry, 0, len(a.requests))
	for _, id := range slices.Sorted(maps.Keys(a.requests)) {
		entries = append(entries, protocol.RequestEntry{Username: a.requests[id], ID: id})
	}
	a.push(protocol.RequestsList(entries))
}

func (a *Account) IsFriend(otherID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.friends[otherID]
	return ok
}

func (a *Account) HasPendingRequest(fromID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.requests[fromID]
	return ok
}

func (a *Account) Unread(friendID int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.friends[friendID]; ok {
		return len(f.Messages)
	}
	return 0
}

// push must be called with mu held. It reports whether line was queued;
// without a bound client it does nothing.
func (a *Account) push(line string) bool {
	if a.client == nil {
		return false
	}
	return sendLine(a.client, line)
}

func (a *Account) friendEntries() []protocol.FriendEntry {
	entries := make([]protocol.FriendEntry, 0, len(a.friends))
	for _, id := range slices.Sorted(maps.Keys(a.friends)) {
		f := a.friends[id]
		entries = append(entries, protocol.FriendEntry{Username: f.Username, ID: f.ID, Unread: len(f.Messages)})
	}
	return entries
}

func (a *Account) record() store.AccountRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := store.AccountRecord{ID: a.ID, Username: a.Username, Password: a.Password}
	for _, id := range slices.Sorted(maps.Keys(a.friends)) {
		f := a.friends[id]
		rec.Friends = append(rec.Friends, store.FriendRecord{
			ID:       f.ID,
			Username: f.Username,
			Messages: slices.Clone(f.Messages),
		})
	}
	for _, id := range slices.Sorted(maps.Keys(a.requests)) {
		rec.Requests = append(rec.Requests, store.RequestRecord{ID: id, Username: a.requests[id]})
	}
	return rec
}

func accountFromRecord(rec store.AccountRecord) *Account {
	a := newAccount(rec.ID, rec.Username, rec.Password)
	for _, f := range rec.Friends {
		a.friends[f.ID] = &Friend{ID: f.ID, Username: f.Username, Messages: slices.Clone(f.Messages)}
	}
	for _, r := range rec.Requests {
		a.requests[r.ID] = r.Username
	}
	return a
}
