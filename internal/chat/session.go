package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/andy6609/friends-chat-server/internal/protocol"
)

// Session drives one connection: the auth handshake, then the command loop.
type Session struct {
	client  *Client
	reg     *Registry
	limiter *rate.Limiter
	logger  *slog.Logger
	account *Account
}

func NewSession(c *Client, reg *Registry, limiter *rate.Limiter, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client:  c,
		reg:     reg,
		limiter: limiter,
		logger:  logger.With("conn", c.ID, "addr", c.remoteAddr()),
	}
}

// HandleSession runs s until the peer goes away or the connection is closed
// by a newer login for the same account.
func HandleSession(c *Client, reg *Registry, limiter *rate.Limiter, logger *slog.Logger) {
	NewSession(c, reg, limiter, logger).Run()
}

func (s *Session) Run() {
	OpenConnections.Inc()
	defer OpenConnections.Dec()
	defer s.client.Close()

	StartOutboundWriter(s.client)

	reader := bufio.NewReader(s.client.Conn)

	acc, err := s.authenticate(reader)
	if err != nil {
		s.logger.Info("connection closed before login", "error", err)
		return
	}
	s.account = acc
	s.logger = s.logger.With("username", acc.Username, "id", acc.ID)

	acc.Bind(s.client)
	defer acc.Unbind(s.client)
	s.logger.Info("client logged in")

	for {
		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			CommandsTotal.WithLabelValues("ignored").Inc()
			s.logger.Debug("ignored oversized line")
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("client disconnected")
			} else {
				s.logger.Warn("connection lost", "error", err)
			}
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(context.Background()); err != nil {
				s.logger.Warn("rate limiter", "error", err)
			}
		}
		s.dispatch(line)
	}
}

func (s *Session) authenticate(reader *bufio.Reader) (*Account, error) {
	for {
		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			AuthAttempts.WithLabelValues("unknown", "wrong_format").Inc()
			sendLine(s.client, protocol.RespWrongFormat)
			continue
		}
		if err != nil {
			sendLine(s.client, protocol.RespErrorReceiving)
			return nil, err
		}

		req, err := protocol.ParseAuth(line)
		if err != nil {
			AuthAttempts.WithLabelValues("unknown", "wrong_format").Inc()
			sendLine(s.client, protocol.RespWrongFormat)
			continue
		}

		var id int
		switch req.Verb {
		case protocol.VerbAuth:
			id, err = s.reg.Authenticate(req.Username, req.Password)
		case protocol.VerbReg:
			id, err = s.register(req.Username, req.Password)
		}
		if err != nil {
			AuthAttempts.WithLabelValues(req.Verb, err.Error()).Inc()
			s.logger.Debug("login rejected", "verb", req.Verb, "username", req.Username, "error", err)
			sendLine(s.client, rejection(err))
			continue
		}

		AuthAttempts.WithLabelValues(req.Verb, "accepted").Inc()
		sendLine(s.client, protocol.Accepted)
		return s.reg.Account(id), nil
	}
}

// register checks in the order clients expect: taken name first, then the
// name format, then the password.
func (s *Session) register(username, password string) (int, error) {
	if _, exists := s.reg.Lookup(username); exists {
		return 0, ErrUsernameTaken
	}
	if !protocol.ValidUsername(username) {
		return 0, ErrUsernameInvalid
	}
	if !protocol.ValidPassword(password) {
		return 0, ErrPasswordTooShort
	}
	return s.reg.Register(username, password)
}

func rejection(err error) string {
	switch {
	case errors.Is(err, ErrNoSuchUser):
		return protocol.RespNoSuchUser
	case errors.Is(err, ErrWrongPassword):
		return protocol.RespWrongPassword
	case errors.Is(err, ErrUsernameTaken):
		return protocol.RespUsernameExists
	case errors.Is(err, ErrUsernameInvalid):
		return protocol.RespWrongUsername
	case errors.Is(err, ErrPasswordTooShort):
		return protocol.RespPasswordTooShort
	default:
		return protocol.RespWrongFormat
	}
}

// dispatch runs one command. Malformed or unknown lines and references to
// unknown accounts are ignored without a reply.
func (s *Session) dispatch(line string) {
	start := time.Now()

	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		CommandsTotal.WithLabelValues("ignored").Inc()
		s.logger.Debug("ignored line", "error", err)
		return
	}

	me := s.account
	switch cmd.Name {
	case protocol.CmdGetRequests:
		me.SendRequestsList()

	case protocol.CmdAccept:
		other, ok := s.reg.Find(cmd.ID)
		if !ok {
			s.logger.Debug("accept for unknown account", "target", cmd.ID)
			break
		}
		if _, ok := me.AcceptRequest(other.ID); ok {
			other.ConfirmFriendAdded(me.ID, me.Username)
			s.logger.Info("friend request accepted", "friend", other.Username)
		}

	case protocol.CmdSendRequest:
		target, ok := s.reg.Lookup(cmd.Username)
		if !ok || target.ID == me.ID {
			break
		}
		if target.ReceiveFriendRequest(me.ID, me.Username) {
			me.Notify(protocol.RequestSent(target.Username))
		}

	case protocol.CmdSendMessage:
		target, ok := s.reg.Find(cmd.ID)
		if !ok {
			s.logger.Debug("message for unknown account", "target", cmd.ID)
			break
		}
		target.EnqueueMessage(me.ID, cmd.Text)

	case protocol.CmdGetMessage:
		me.PopFirstMessage(cmd.ID)
	}

	CommandsTotal.WithLabelValues(cmd.Name).Inc()
	CommandProcessingDuration.WithLabelValues(cmd.Name).Observe(time.Since(start).Seconds())
}

// maxLineLength bounds one inbound line, terminator included.
const maxLineLength = 64 * 1024

var errLineTooLong = errorString("line_too_long")

// readLine returns the next line without its terminator. A line longer than
// maxLineLength is consumed and discarded, and errLineTooLong is returned so
// the caller can treat it as malformed input.
func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineLength {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return "", errLineTooLong
			}
			return strings.TrimRight(string(buf), "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(buf) > 0 {
				// last line without newline
				return strings.TrimRight(string(buf), "\r\n"), nil
			}
			return "", io.EOF
		default:
			return "", fmt.Errorf("read: %w", err)
		}
	}
}
