package chat

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one accepted socket. Lines queued on Out are written by the
// outbound writer goroutine in order.
type Client struct {
	ID   string
	Conn net.Conn
	Out  chan string

	done      chan struct{}
	closeOnce sync.Once
	hasWriter bool
}

func NewClient(conn net.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Out:  make(chan string, buffer),
		done: make(chan struct{}),
	}
}

// Close stops delivery to the client. With a running writer, lines already
// queued are flushed before the socket is closed; the write deadline bounds
// that flush and unblocks a write stuck on a peer that stopped reading.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.hasWriter && c.Conn != nil {
			_ = c.Conn.SetWriteDeadline(time.Now().Add(drainTimeout))
		}
		close(c.done)
		if !c.hasWriter && c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) remoteAddr() string {
	if c.Conn == nil || c.Conn.RemoteAddr() == nil {
		return ""
	}
	return c.Conn.RemoteAddr().String()
}

var (
	ErrUsernameTaken    = errorString("username_taken")
	ErrUsernameInvalid  = errorString("username_invalid")
	ErrPasswordTooShort = errorString("password_too_short")
	ErrNoSuchUser       = errorString("no_such_user")
	ErrWrongPassword    = errorString("wrong_password")
	ErrCorruptSnapshot  = errorString("corrupt_snapshot")
)

type errorString string

func (e errorString) Error() string { return string(e) }
