// Package auth decides whether operator credentials are valid.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator checks a username and password pair.
type Authenticator interface {
	Authenticate(user, pass string) bool
}

// BcryptUsers authenticates against a fixed set of bcrypt hashes.
type BcryptUsers struct {
	hashes map[string][]byte
	dummy  []byte
}

// ParseUsers builds a BcryptUsers from "user:bcrypt-hash" entries, as found
// in AUTH_USERS. Blank entries are ignored.
func ParseUsers(entries []string) (*BcryptUsers, error) {
	u := &BcryptUsers{hashes: make(map[string][]byte, len(entries))}
	var errs []error
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			errs = append(errs, fmt.Errorf("auth entry %q: want user:hash", entry))
			continue
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			errs = append(errs, fmt.Errorf("auth entry for %q: %w", name, err))
			continue
		}
		if _, dup := u.hashes[name]; dup {
			errs = append(errs, fmt.Errorf("auth entry for %q: duplicate user", name))
			continue
		}
		u.hashes[name] = []byte(hash)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	// Unknown users still pay for one comparison.
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-password"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u.dummy = dummy
	return u, nil
}

// Authenticate reports whether pass matches the stored hash for user.
func (u *BcryptUsers) Authenticate(user, pass string) bool {
	hash, ok := u.hashes[user]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(u.dummy, []byte(pass))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil
}

// Len returns the number of configured users.
func (u *BcryptUsers) Len() int {
	return len(u.hashes)
}

// HashPassword returns a bcrypt hash suitable for AUTH_USERS.
func HashPassword(pass string) (string, error) {
	if pass == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
