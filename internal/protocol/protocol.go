// Package protocol implements the newline-terminated text protocol spoken
// between chat clients and the server.
package protocol

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Handshake verbs.
const (
	VerbAuth = "auth"
	VerbReg  = "reg"
)

// Post-auth command names.
const (
	CmdGetRequests = "GetFriendsRequestsList"
	CmdAccept      = "AcceptRequest"
	CmdSendRequest = "SendRequest"
	CmdSendMessage = "SendMessage"
	CmdGetMessage  = "GetMessageFrom"
)

// Handshake responses.
const (
	Accepted             = "Accepted"
	RespNoSuchUser       = "No such user"
	RespWrongPassword    = "Wrong password"
	RespUsernameExists   = "Username exists"
	RespWrongUsername    = "Wrong username format, should: start with letter, be at 3 characters long and consist only of letters, digits and underscores"
	RespPasswordTooShort = "Password should be at least 3 characters long"
	RespWrongFormat      = "Wrong format"
	RespErrorReceiving   = "Error receiving request"
)

const (
	minPasswordLength = 3
	handshakeFields   = 3
)

var (
	ErrWrongFormat    = errorString("wrong_format")
	ErrMalformed      = errorString("malformed_command")
	ErrUnknownCommand = errorString("unknown_command")
)

type errorString string

func (e errorString) Error() string { return string(e) }

var usernameRe = regexp.MustCompile(`^[a-zA-Z][\w]{2,}$`)

// AuthRequest is the first line a client sends.
type AuthRequest struct {
	Verb     string
	Username string
	Password string
}

// ParseAuth parses "auth <user> <pass>" or "reg <user> <pass>". The password
// is the rest of the line.
func ParseAuth(line string) (AuthRequest, error) {
	parts := strings.SplitN(line, " ", handshakeFields)
	if len(parts) != handshakeFields {
		return AuthRequest{}, ErrWrongFormat
	}
	switch parts[0] {
	case VerbAuth, VerbReg:
	default:
		return AuthRequest{}, ErrWrongFormat
	}
	return AuthRequest{Verb: parts[0], Username: parts[1], Password: parts[2]}, nil
}

func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

func ValidPassword(pass string) bool {
	return utf8.RuneCountInString(pass) >= minPasswordLength
}

// Command is a parsed post-auth request. Only the fields relevant to Name are
// set.
type Command struct {
	Name     string
	ID       int
	Username string
	Text     string
}

// ParseCommand parses one post-auth line.
func ParseCommand(line string) (Command, error) {
	name, arg, hasArg := strings.Cut(line, " ")
	cmd := Command{Name: name}

	switch name {
	case CmdGetRequests:
		return cmd, nil
	case CmdAccept, CmdGetMessage:
		if !hasArg {
			return Command{}, ErrMalformed
		}
		id, err := parseID(arg)
		if err != nil {
			return Command{}, err
		}
		cmd.ID = id
		return cmd, nil
	case CmdSendRequest:
		if !hasArg || arg == "" {
			return Command{}, ErrMalformed
		}
		cmd.Username = arg
		return cmd, nil
	case CmdSendMessage:
		idStr, text, ok := strings.Cut(arg, " ")
		if !hasArg || !ok {
			return Command{}, ErrMalformed
		}
		id, err := parseID(idStr)
		if err != nil {
			return Command{}, err
		}
		cmd.ID = id
		cmd.Text = text
		return cmd, nil
	default:
		return Command{}, ErrUnknownCommand
	}
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, ErrMalformed
	}
	return id, nil
}

// FriendEntry is one element of a FriendsList line.
type FriendEntry struct {
	Username string
	ID       int
	Unread   int
}

// RequestEntry is one element of a RequestsList line.
type RequestEntry struct {
	Username string
	ID       int
}

func FriendsList(friends []FriendEntry) string {
	var b strings.Builder
	b.WriteString("FriendsList ")
	b.WriteString(strconv.Itoa(len(friends)))
	for _, f := range friends {
		b.WriteByte(' ')
		b.WriteString(f.Username)
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(f.ID))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(f.Unread))
	}
	return b.String()
}

func RequestsList(requests []RequestEntry) string {
	var b strings.Builder
	b.WriteString("RequestsList ")
	b.WriteString(strconv.Itoa(len(requests)))
	for _, r := range requests {
		b.WriteByte(' ')
		b.WriteString(r.Username)
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(r.ID))
	}
	return b.String()
}

func NumberOfRequests(n int) string {
	return "NumberOfRequests " + strconv.Itoa(n)
}

func NewFriend(username string, id int) string {
	return "NewFriend " + username + " " + strconv.Itoa(id)
}

func UnreadMessages(id, count int) string {
	return "UnreadMessages " + strconv.Itoa(id) + " " + strconv.Itoa(count)
}

func NewMessage(id int, text string) string {
	return "NewMessage " + strconv.Itoa(id) + " " + text
}

func Notification(text string) string {
	return "Notification " + text
}

// RequestSent is the notification text shown to the sender of a friend request.
func RequestSent(username string) string {
	return "Friends request sent to " + username
}
