package smtpsink

import (
	"encoding/base64"
	"errors"
	"testing"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestCredentials_Enabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		creds credentials
		want  bool
	}{
		{"both set", credentials{username: "user", password: "pass"}, true},
		{"none set", credentials{}, false},
		{"only username", credentials{username: "user"}, false},
		{"reject all", credentials{rejectAll: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.creds.enabled(); got != tt.want {
				t.Errorf("enabled(): got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentials_VerifyPlain(t *testing.T) {
	t.Parallel()

	creds := &credentials{username: "user", password: "pass"}

	tests := []struct {
		name    string
		encoded string
		wantErr error
	}{
		{"success", b64("\x00user\x00pass"), nil},
		{"with authzid", b64("admin\x00user\x00pass"), nil},
		{"wrong password", b64("\x00user\x00nope"), errAuthFailed},
		{"wrong username", b64("\x00other\x00pass"), errAuthFailed},
		{"invalid base64", "!!!", errAuthMalformed},
		{"missing separator", b64("userpass"), errAuthMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := creds.verifyPlain(tt.encoded)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("verifyPlain: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCredentials_VerifyLogin(t *testing.T) {
	t.Parallel()

	creds := &credentials{username: "user", password: "pass"}

	if err := creds.verifyLogin(b64("user"), b64("pass")); err != nil {
		t.Errorf("valid login: %v", err)
	}
	if err := creds.verifyLogin(b64("user"), b64("wrong")); !errors.Is(err, errAuthFailed) {
		t.Errorf("wrong password: got %v", err)
	}
	if err := creds.verifyLogin("!!!", b64("pass")); !errors.Is(err, errAuthMalformed) {
		t.Errorf("bad username encoding: got %v", err)
	}
	if err := creds.verifyLogin(b64("user"), "!!!"); !errors.Is(err, errAuthMalformed) {
		t.Errorf("bad password encoding: got %v", err)
	}
}

func TestCredentials_RejectAll(t *testing.T) {
	t.Parallel()

	creds := &credentials{username: "user", password: "pass", rejectAll: true}
	if err := creds.verifyPlain(b64("\x00user\x00pass")); !errors.Is(err, errAuthFailed) {
		t.Errorf("rejectAll should refuse valid credentials, got %v", err)
	}
}
