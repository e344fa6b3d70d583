package smtpsink

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	errAuthFailed    = errors.New("authentication failed")
	errAuthMalformed = errors.New("malformed authentication response")
)

// credentials holds the single account the sink accepts. With rejectAll set
// every attempt fails, which lets a campaign rehearse an auth outage.
type credentials struct {
	username  string
	password  string
	rejectAll bool
}

// enabled reports whether the sink advertises and requires AUTH.
func (c *credentials) enabled() bool {
	return c.rejectAll || (c.username != "" && c.password != "")
}

func (c *credentials) check(user, pass string) error {
	if c.rejectAll {
		return errAuthFailed
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(c.password)) == 1
	if !userOK || !passOK {
		return errAuthFailed
	}
	return nil
}

// verifyPlain checks an AUTH PLAIN response: base64(authzid \0 user \0 pass).
func (c *credentials) verifyPlain(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errAuthMalformed
	}
	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return errAuthMalformed
	}
	return c.check(parts[1], parts[2])
}

// verifyLogin checks the base64 username and password of an AUTH LOGIN exchange.
func (c *credentials) verifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return errAuthMalformed
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return errAuthMalformed
	}
	return c.check(string(user), string(pass))
}
