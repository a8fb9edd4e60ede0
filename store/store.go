// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package store defines the persistent storage used by the service: the
// links between external identities and local accounts and the local
// account directory.
package store

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	errgo "gopkg.in/errgo.v1"
)

// A Link associates a local account with an external identity in a
// domain.
type Link struct {
	// AccountID holds the ID of the local account.
	AccountID int64

	// Domain holds the name of the domain the external identity
	// belongs to.
	Domain string

	// ExternalKey holds the key of the external identity in the
	// domain, for example a directory DN.
	ExternalKey string

	// Created holds the time the link was made.
	Created time.Time
}

// LinkStore is the interface that represents the link relation between
// (domain, external key) pairs and local accounts.
//
// For a domain an external key is linked to at most one account and an
// account is linked to at most one external key.
type LinkStore interface {
	// AccountForExternalKey returns the ID of the account linked to
	// the given external key in the given domain. If there is no
	// such link an error with a cause of ErrNotFound is returned.
	AccountForExternalKey(ctx context.Context, domain, key string) (int64, error)

	// ExternalKeyForAccount returns the external key linked to the
	// given account in the given domain. If there is no such link
	// an error with a cause of ErrNotFound is returned.
	ExternalKeyForAccount(ctx context.Context, accountID int64, domain string) (string, error)

	// DomainsForAccount returns the sorted names of the domains in
	// which the given account is linked.
	DomainsForAccount(ctx context.Context, accountID int64) ([]string, error)

	// IsLinked reports whether the given account is linked in the
	// given domain.
	IsLinked(ctx context.Context, accountID int64, domain string) (bool, error)

	// Link links the given account to the given external key,
	// replacing any link the account already has in the domain. It
	// reports whether a previous link was replaced. Linking an
	// account with an ID of zero, which has not been persisted, does
	// nothing and returns false.
	//
	// If the external key is already linked to a different account
	// an error with a cause of ErrDuplicateKey is returned and no
	// change is made.
	Link(ctx context.Context, accountID int64, domain, key string) (replaced bool, err error)

	// Unlink removes the link of the given account in the given
	// domain, reporting whether there was one.
	Unlink(ctx context.Context, accountID int64, domain string) (bool, error)

	// UnlinkByExternalKey removes the link of the given external
	// key, reporting whether there was one.
	UnlinkByExternalKey(ctx context.Context, domain, key string) (bool, error)

	// Links returns all links of the given account ordered by
	// domain.
	Links(ctx context.Context, accountID int64) ([]Link, error)

	// LinkCounts returns the number of links in each domain.
	LinkCounts(ctx context.Context) (map[string]int, error)
}

// An Account is a local account.
type Account struct {
	// ID holds the ID of the account. It is zero for accounts that
	// have not been created.
	ID int64

	// Name holds the canonical name of the account.
	Name string

	RealName string
	Email    string

	// EmailConfirmed records whether Email has been confirmed as
	// belonging to the account holder.
	EmailConfirmed bool

	// Preferences holds the account's preferences by name.
	Preferences map[string]string

	// Touched holds the time the account was last saved.
	Touched time.Time
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	a1 := *a
	if a.Preferences != nil {
		a1.Preferences = make(map[string]string, len(a.Preferences))
		for k, v := range a.Preferences {
			a1.Preferences[k] = v
		}
	}
	return &a1
}

// AccountStore is the interface that represents the local account
// directory.
type AccountStore interface {
	// Account returns the account with the given ID. If there is
	// no such account an error with a cause of ErrNotFound is
	// returned.
	Account(ctx context.Context, id int64) (*Account, error)

	// AccountByName returns the account with the given name, which
	// is canonicalised before the lookup. If there is no such
	// account an error with a cause of ErrNotFound is returned.
	AccountByName(ctx context.Context, name string) (*Account, error)

	// AccountsByEmail returns the accounts with the given email
	// address, compared without regard to case, ordered by ID.
	AccountsByEmail(ctx context.Context, email string) ([]*Account, error)

	// AccountsByRealName returns the accounts with the given real
	// name, compared without regard to case, ordered by ID.
	AccountsByRealName(ctx context.Context, realName string) ([]*Account, error)

	// CreateAccount creates a new account and sets its ID. The name
	// is canonicalised. If an account with the name already exists
	// an error with a cause of ErrDuplicateUsername is returned.
	CreateAccount(ctx context.Context, a *Account) error

	// SaveAccount saves all the fields of the given account and
	// updates Touched. If the account does not exist an error with
	// a cause of ErrNotFound is returned.
	SaveAccount(ctx context.Context, a *Account) error
}

// invalidNameChars holds the characters that may not appear in account
// names.
const invalidNameChars = "#<>[]|{}/@:"

// maxNameLength holds the maximum length of an account name in bytes.
const maxNameLength = 255

// CanonicalName returns the canonical form of the given account name:
// underscores are replaced with spaces, runs of spaces are collapsed,
// leading and trailing space is removed and the first letter is made
// upper case. An error with a cause of ErrInvalidName is returned if
// the name cannot be used.
func CanonicalName(name string) (string, error) {
	name = strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), " ")
	if name == "" {
		return "", errgo.WithCausef(nil, ErrInvalidName, "empty account name")
	}
	if len(name) > maxNameLength {
		return "", errgo.WithCausef(nil, ErrInvalidName, "account name too long")
	}
	if !utf8.ValidString(name) {
		return "", errgo.WithCausef(nil, ErrInvalidName, "account name %q is not valid UTF-8", name)
	}
	for _, r := range name {
		if strings.ContainsRune(invalidNameChars, r) || unicode.IsControl(r) {
			return "", errgo.WithCausef(nil, ErrInvalidName, "account name %q contains invalid character %q", name, r)
		}
	}
	r, n := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[n:], nil
}

// SortLinks sorts links by domain.
func SortLinks(links []Link) {
	sort.Slice(links, func(i, j int) bool {
		return links[i].Domain < links[j].Domain
	})
}
