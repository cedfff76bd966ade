package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func hash(t *testing.T, pass string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func TestBcryptUsersAuthenticate(t *testing.T) {
	users, err := ParseUsers([]string{
		"registrar:" + hash(t, "s3cret"),
		" ",
		"clerk:" + hash(t, "hunter2"),
	})
	if err != nil {
		t.Fatalf("ParseUsers() error = %v", err)
	}
	if users.Len() != 2 {
		t.Errorf("Len() = %d, want 2", users.Len())
	}

	tests := []struct {
		name string
		user string
		pass string
		want bool
	}{
		{name: "valid", user: "registrar", pass: "s3cret", want: true},
		{name: "second user", user: "clerk", pass: "hunter2", want: true},
		{name: "wrong password", user: "registrar", pass: "hunter2", want: false},
		{name: "unknown user", user: "mallory", pass: "s3cret", want: false},
		{name: "empty", user: "", pass: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := users.Authenticate(tt.user, tt.pass); got != tt.want {
				t.Errorf("Authenticate(%q, %q) = %v, want %v", tt.user, tt.pass, got, tt.want)
			}
		})
	}
}

func TestParseUsersErrors(t *testing.T) {
	good := hash(t, "pw")
	tests := []struct {
		name    string
		entries []string
	}{
		{name: "missing colon", entries: []string{"registrar"}},
		{name: "empty user", entries: []string{":" + good}},
		{name: "not a bcrypt hash", entries: []string{"registrar:plaintext"}},
		{name: "duplicate user", entries: []string{"a:" + good, "a:" + good}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseUsers(tt.entries); err == nil {
				t.Error("ParseUsers() error = nil, want error")
			}
		})
	}
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	users, err := ParseUsers([]string{"registrar:" + h})
	if err != nil {
		t.Fatal(err)
	}
	if !users.Authenticate("registrar", "s3cret") {
		t.Error("hashed password should authenticate")
	}
	if _, err := HashPassword(""); err == nil {
		t.Error("empty password should be rejected")
	}
}
