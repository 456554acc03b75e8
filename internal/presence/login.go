package presence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yume-project/yume/internal/protocol"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBanned             = errors.New("account is banned")
	ErrAlreadyOnline      = errors.New("account is already online")
	ErrMalformedLogin     = errors.New("malformed login request")
)

// Credentials is the parsed plain-text login body.
type Credentials struct {
	Username          string
	PasswordMD5       string
	ClientVersion     string
	UTCOffset         int8
	ClientHashes      string
	BlockNonFriendPMs bool
}

// ParseCredentials parses a login body of the form
// "username\npassword-md5\nversion|utc-offset|display-city|hashes|pm-private\n".
// The display-city flag is ignored since locations are never sent.
func ParseCredentials(body []byte) (Credentials, error) {
	var c Credentials

	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	if len(lines) < 3 {
		return c, fmt.Errorf("%w: expected 3 lines, got %d", ErrMalformedLogin, len(lines))
	}

	c.Username = strings.TrimSpace(lines[0])
	c.PasswordMD5 = strings.TrimSpace(lines[1])
	if c.Username == "" || len(c.PasswordMD5) != 32 {
		return c, fmt.Errorf("%w: missing username or password digest", ErrMalformedLogin)
	}

	info := strings.Split(strings.TrimSpace(lines[2]), "|")
	if len(info) < 5 {
		return c, fmt.Errorf("%w: expected 5 client fields, got %d", ErrMalformedLogin, len(info))
	}

	c.ClientVersion = info[0]
	offset, err := strconv.Atoi(info[1])
	if err != nil || offset < -24 || offset > 24 {
		return c, fmt.Errorf("%w: bad utc offset %q", ErrMalformedLogin, info[1])
	}
	c.UTCOffset = int8(offset)
	c.ClientHashes = info[3]
	c.BlockNonFriendPMs = info[4] == "1"

	return c, nil
}

// LoginCode maps a login error to the login-reply code sent to the client.
func LoginCode(err error) int32 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrMalformedLogin):
		return protocol.LoginFailed
	case errors.Is(err, ErrBanned):
		return protocol.LoginBanned
	default:
		return protocol.LoginServerError
	}
}
