// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package memstore provides an in-memory implementation of the store.
// This might be useful for simple test systems.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/juju/clock"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/store"
)

// memStore holds the links and accounts. It implements both
// store.LinkStore and store.AccountStore.
type memStore struct {
	clock clock.Clock

	mu       sync.Mutex
	accounts []*store.Account
	links    []store.Link
}

// NewStore creates a new in-memory store. If clk is nil the wall clock
// is used to time links and account changes.
func NewStore(clk clock.Clock) interface {
	store.LinkStore
	store.AccountStore
} {
	if clk == nil {
		clk = clock.WallClock
	}
	return &memStore{clock: clk}
}

// AccountForExternalKey implements store.LinkStore.AccountForExternalKey.
func (s *memStore) AccountForExternalKey(_ context.Context, domain, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.Domain == domain && l.ExternalKey == key {
			return l.AccountID, nil
		}
	}
	return 0, store.LinkNotFoundError(domain, key)
}

// ExternalKeyForAccount implements store.LinkStore.ExternalKeyForAccount.
func (s *memStore) ExternalKeyForAccount(_ context.Context, accountID int64, domain string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.linkIndex(accountID, domain); i >= 0 {
		return s.links[i].ExternalKey, nil
	}
	return "", store.AccountLinkNotFoundError(accountID, domain)
}

// DomainsForAccount implements store.LinkStore.DomainsForAccount.
func (s *memStore) DomainsForAccount(_ context.Context, accountID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var domains []string
	for _, l := range s.links {
		if l.AccountID == accountID {
			domains = append(domains, l.Domain)
		}
	}
	sort.Strings(domains)
	return domains, nil
}

// IsLinked implements store.LinkStore.IsLinked.
func (s *memStore) IsLinked(_ context.Context, accountID int64, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkIndex(accountID, domain) >= 0, nil
}

// Link implements store.LinkStore.Link.
func (s *memStore) Link(_ context.Context, accountID int64, domain, key string) (bool, error) {
	if accountID == 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.Domain == domain && l.ExternalKey == key && l.AccountID != accountID {
			return false, store.DuplicateKeyError(domain, key)
		}
	}
	link := store.Link{
		AccountID:   accountID,
		Domain:      domain,
		ExternalKey: key,
		Created:     s.clock.Now(),
	}
	if i := s.linkIndex(accountID, domain); i >= 0 {
		s.links[i] = link
		return true, nil
	}
	s.links = append(s.links, link)
	return false, nil
}

// Unlink implements store.LinkStore.Unlink.
func (s *memStore) Unlink(_ context.Context, accountID int64, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.linkIndex(accountID, domain)
	if i < 0 {
		return false, nil
	}
	s.links = append(s.links[:i], s.links[i+1:]...)
	return true, nil
}

// UnlinkByExternalKey implements store.LinkStore.UnlinkByExternalKey.
func (s *memStore) UnlinkByExternalKey(_ context.Context, domain, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.links {
		if l.Domain == domain && l.ExternalKey == key {
			s.links = append(s.links[:i], s.links[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Links implements store.LinkStore.Links.
func (s *memStore) Links(_ context.Context, accountID int64) ([]store.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var links []store.Link
	for _, l := range s.links {
		if l.AccountID == accountID {
			links = append(links, l)
		}
	}
	store.SortLinks(links)
	return links, nil
}

// LinkCounts implements store.LinkStore.LinkCounts.
func (s *memStore) LinkCounts(context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, l := range s.links {
		counts[l.Domain]++
	}
	return counts, nil
}

func (s *memStore) linkIndex(accountID int64, domain string) int {
	for i, l := range s.links {
		if l.AccountID == accountID && l.Domain == domain {
			return i
		}
	}
	return -1
}

// Account implements store.AccountStore.Account.
func (s *memStore) Account(_ context.Context, id int64) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id <= 0 || id > int64(len(s.accounts)) {
		return nil, store.AccountNotFoundError(id, "")
	}
	return s.accounts[id-1].Clone(), nil
}

// AccountByName implements store.AccountStore.AccountByName.
func (s *memStore) AccountByName(_ context.Context, name string) (*store.Account, error) {
	cname, err := store.CanonicalName(name)
	if err != nil {
		return nil, store.AccountNotFoundError(0, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.accountByName(cname); a != nil {
		return a.Clone(), nil
	}
	return nil, store.AccountNotFoundError(0, cname)
}

func (s *memStore) accountByName(name string) *store.Account {
	for _, a := range s.accounts {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// AccountsByEmail implements store.AccountStore.AccountsByEmail.
func (s *memStore) AccountsByEmail(_ context.Context, email string) ([]*store.Account, error) {
	return s.accountsWhere(func(a *store.Account) bool {
		return email != "" && strings.EqualFold(a.Email, email)
	}), nil
}

// AccountsByRealName implements store.AccountStore.AccountsByRealName.
func (s *memStore) AccountsByRealName(_ context.Context, realName string) ([]*store.Account, error) {
	return s.accountsWhere(func(a *store.Account) bool {
		return realName != "" && strings.EqualFold(a.RealName, realName)
	}), nil
}

func (s *memStore) accountsWhere(f func(*store.Account) bool) []*store.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accounts []*store.Account
	for _, a := range s.accounts {
		if f(a) {
			accounts = append(accounts, a.Clone())
		}
	}
	return accounts
}

// CreateAccount implements store.AccountStore.CreateAccount.
func (s *memStore) CreateAccount(_ context.Context, a *store.Account) error {
	name, err := store.CanonicalName(a.Name)
	if err != nil {
		return errgo.Mask(err, errgo.Is(store.ErrInvalidName))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountByName(name) != nil {
		return store.DuplicateUsernameError(name)
	}
	a.Name = name
	a.ID = int64(len(s.accounts) + 1)
	a.Touched = s.clock.Now()
	s.accounts = append(s.accounts, a.Clone())
	return nil
}

// SaveAccount implements store.AccountStore.SaveAccount.
func (s *memStore) SaveAccount(_ context.Context, a *store.Account) error {
	name, err := store.CanonicalName(a.Name)
	if err != nil {
		return errgo.Mask(err, errgo.Is(store.ErrInvalidName))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID <= 0 || a.ID > int64(len(s.accounts)) {
		return store.AccountNotFoundError(a.ID, "")
	}
	if other := s.accountByName(name); other != nil && other.ID != a.ID {
		return store.DuplicateUsernameError(name)
	}
	a.Name = name
	a.Touched = s.clock.Now()
	s.accounts[a.ID-1] = a.Clone()
	return nil
}
