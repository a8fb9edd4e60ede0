// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storetest provides useful tools for testing Store
// implementations.
package storetest

import (
	"context"

	qt "github.com/frankban/quicktest"
	"github.com/frankban/quicktest/qtsuite"
	"github.com/google/go-cmp/cmp/cmpopts"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/store"
)

// linksEqual compares links ignoring their creation time.
var linksEqual = qt.CmpEquals(cmpopts.IgnoreFields(store.Link{}, "Created"))

// linkSuite contains a set of tests for store.LinkStore
// implementations.
type linkSuite struct {
	newStore func(c *qt.C) store.LinkStore

	Store store.LinkStore
	ctx   context.Context
}

// TestLinkStore runs a suite of tests on the given LinkStore
// implementation.
func TestLinkStore(c *qt.C, newStore func(c *qt.C) store.LinkStore) {
	qtsuite.Run(c, &linkSuite{
		newStore: newStore,
	})
}

func (s *linkSuite) Init(c *qt.C) {
	s.Store = s.newStore(c)
	s.ctx = context.Background()
}

func (s *linkSuite) TestLinkAndLookup(c *qt.C) {
	replaced, err := s.Store.Link(s.ctx, 1, "corp", "uid=alice,dc=corp")
	c.Assert(err, qt.IsNil)
	c.Assert(replaced, qt.Equals, false)

	id, err := s.Store.AccountForExternalKey(s.ctx, "corp", "uid=alice,dc=corp")
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, int64(1))

	key, err := s.Store.ExternalKeyForAccount(s.ctx, 1, "corp")
	c.Assert(err, qt.IsNil)
	c.Assert(key, qt.Equals, "uid=alice,dc=corp")

	linked, err := s.Store.IsLinked(s.ctx, 1, "corp")
	c.Assert(err, qt.IsNil)
	c.Assert(linked, qt.Equals, true)

	linked, err = s.Store.IsLinked(s.ctx, 1, "partner")
	c.Assert(err, qt.IsNil)
	c.Assert(linked, qt.Equals, false)
}

func (s *linkSuite) TestLookupNotFound(c *qt.C) {
	_, err := s.Store.AccountForExternalKey(s.ctx, "corp", "uid=nobody")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `corp: external identity "uid=nobody" not linked`)

	_, err = s.Store.ExternalKeyForAccount(s.ctx, 42, "corp")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `corp: account 42 not linked`)
}

func (s *linkSuite) TestLinkReplacesExistingLinkInDomain(c *qt.C) {
	_, err := s.Store.Link(s.ctx, 1, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	replaced, err := s.Store.Link(s.ctx, 1, "corp", "uid=alice2")
	c.Assert(err, qt.IsNil)
	c.Assert(replaced, qt.Equals, true)

	key, err := s.Store.ExternalKeyForAccount(s.ctx, 1, "corp")
	c.Assert(err, qt.IsNil)
	c.Assert(key, qt.Equals, "uid=alice2")

	_, err = s.Store.AccountForExternalKey(s.ctx, "corp", "uid=alice")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)

	links, err := s.Store.Links(s.ctx, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(links, linksEqual, []store.Link{{
		AccountID:   1,
		Domain:      "corp",
		ExternalKey: "uid=alice2",
	}})
}

func (s *linkSuite) TestRelinkSameKey(c *qt.C) {
	_, err := s.Store.Link(s.ctx, 1, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	replaced, err := s.Store.Link(s.ctx, 1, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	c.Assert(replaced, qt.Equals, true)

	id, err := s.Store.AccountForExternalKey(s.ctx, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, int64(1))
}

func (s *linkSuite) TestLinkDuplicateKey(c *qt.C) {
	_, err := s.Store.Link(s.ctx, 1, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	_, err = s.Store.Link(s.ctx, 2, "corp", "uid=bob")
	c.Assert(err, qt.IsNil)

	_, err = s.Store.Link(s.ctx, 2, "corp", "uid=alice")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrDuplicateKey)
	c.Assert(err, qt.ErrorMatches, `corp: external identity "uid=alice" already linked`)

	// Nothing changed.
	id, err := s.Store.AccountForExternalKey(s.ctx, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, int64(1))
	key, err := s.Store.ExternalKeyForAccount(s.ctx, 2, "corp")
	c.Assert(err, qt.IsNil)
	c.Assert(key, qt.Equals, "uid=bob")
}

func (s *linkSuite) TestSameKeyInDifferentDomains(c *qt.C) {
	_, err := s.Store.Link(s.ctx, 1, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	_, err = s.Store.Link(s.ctx, 2, "partner", "uid=alice")
	c.Assert(err, qt.IsNil)

	id, err := s.Store.AccountForExternalKey(s.ctx, "partner", "uid=alice")
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, int64(2))
}

func (s *linkSuite) TestLinkTransientAccount(c *qt.C) {
	replaced, err := s.Store.Link(s.ctx, 0, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	c.Assert(replaced, qt.Equals, false)

	_, err = s.Store.AccountForExternalKey(s.ctx, "corp", "uid=alice")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
}

func (s *linkSuite) TestUnlink(c *qt.C) {
	_, err := s.Store.Link(s.ctx, 1, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)

	ok, err := s.Store.Unlink(s.ctx, 1, "corp")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.Equals, true)

	ok, err = s.Store.Unlink(s.ctx, 1, "corp")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.Equals, false)

	_, err = s.Store.AccountForExternalKey(s.ctx, "corp", "uid=alice")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)

	// The key is free to be linked to another account.
	_, err = s.Store.Link(s.ctx, 2, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
}

func (s *linkSuite) TestUnlinkByExternalKey(c *qt.C) {
	_, err := s.Store.Link(s.ctx, 1, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	_, err = s.Store.Link(s.ctx, 1, "partner", "uid=alice")
	c.Assert(err, qt.IsNil)

	ok, err := s.Store.UnlinkByExternalKey(s.ctx, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.Equals, true)

	ok, err = s.Store.UnlinkByExternalKey(s.ctx, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.Equals, false)

	domains, err := s.Store.DomainsForAccount(s.ctx, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(domains, qt.DeepEquals, []string{"partner"})
}

func (s *linkSuite) TestDomainsAndLinks(c *qt.C) {
	for _, domain := range []string{"zeta", "alpha", "mid"} {
		_, err := s.Store.Link(s.ctx, 7, domain, "key-"+domain)
		c.Assert(err, qt.IsNil)
	}
	_, err := s.Store.Link(s.ctx, 8, "alpha", "other")
	c.Assert(err, qt.IsNil)

	domains, err := s.Store.DomainsForAccount(s.ctx, 7)
	c.Assert(err, qt.IsNil)
	c.Assert(domains, qt.DeepEquals, []string{"alpha", "mid", "zeta"})

	links, err := s.Store.Links(s.ctx, 7)
	c.Assert(err, qt.IsNil)
	c.Assert(links, linksEqual, []store.Link{{
		AccountID:   7,
		Domain:      "alpha",
		ExternalKey: "key-alpha",
	}, {
		AccountID:   7,
		Domain:      "mid",
		ExternalKey: "key-mid",
	}, {
		AccountID:   7,
		Domain:      "zeta",
		ExternalKey: "key-zeta",
	}})
	for _, l := range links {
		c.Check(l.Created.IsZero(), qt.Equals, false)
	}

	domains, err = s.Store.DomainsForAccount(s.ctx, 9)
	c.Assert(err, qt.IsNil)
	c.Assert(domains, qt.HasLen, 0)

	counts, err := s.Store.LinkCounts(s.ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(counts, qt.DeepEquals, map[string]int{
		"alpha": 2,
		"mid":   1,
		"zeta":  1,
	})
}

// accountSuite contains a set of tests for store.AccountStore
// implementations.
type accountSuite struct {
	newStore func(c *qt.C) store.AccountStore

	Store store.AccountStore
	ctx   context.Context
}

// TestAccountStore runs a suite of tests on the given AccountStore
// implementation.
func TestAccountStore(c *qt.C, newStore func(c *qt.C) store.AccountStore) {
	qtsuite.Run(c, &accountSuite{
		newStore: newStore,
	})
}

func (s *accountSuite) Init(c *qt.C) {
	s.Store = s.newStore(c)
	s.ctx = context.Background()
}

func (s *accountSuite) TestCreateAndGet(c *qt.C) {
	a := &store.Account{
		Name:     "alice_smith",
		RealName: "Alice Smith",
		Email:    "Alice@Example.com",
		Preferences: map[string]string{
			"language": "en",
		},
	}
	err := s.Store.CreateAccount(s.ctx, a)
	c.Assert(err, qt.IsNil)
	c.Assert(a.ID, qt.Not(qt.Equals), int64(0))
	c.Assert(a.Name, qt.Equals, "Alice smith")
	c.Assert(a.Touched.IsZero(), qt.Equals, false)

	a1, err := s.Store.Account(s.ctx, a.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(a1.ID, qt.Equals, a.ID)
	c.Assert(a1.Name, qt.Equals, "Alice smith")
	c.Assert(a1.RealName, qt.Equals, "Alice Smith")
	c.Assert(a1.Email, qt.Equals, "Alice@Example.com")
	c.Assert(a1.EmailConfirmed, qt.Equals, false)
	c.Assert(a1.Preferences, qt.DeepEquals, map[string]string{"language": "en"})

	a2, err := s.Store.AccountByName(s.ctx, "alice smith")
	c.Assert(err, qt.IsNil)
	c.Assert(a2.ID, qt.Equals, a.ID)
}

func (s *accountSuite) TestCreateDuplicate(c *qt.C) {
	err := s.Store.CreateAccount(s.ctx, &store.Account{Name: "Bob"})
	c.Assert(err, qt.IsNil)
	err = s.Store.CreateAccount(s.ctx, &store.Account{Name: "bob"})
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrDuplicateUsername)
	c.Assert(err, qt.ErrorMatches, `username Bob already in use`)
}

func (s *accountSuite) TestCreateInvalidName(c *qt.C) {
	err := s.Store.CreateAccount(s.ctx, &store.Account{Name: "a/b"})
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrInvalidName)
}

func (s *accountSuite) TestNotFound(c *qt.C) {
	_, err := s.Store.Account(s.ctx, 1234)
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `account 1234 not found`)

	_, err = s.Store.AccountByName(s.ctx, "Nobody")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `account "Nobody" not found`)

	err = s.Store.SaveAccount(s.ctx, &store.Account{ID: 1234, Name: "Nobody"})
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
}

func (s *accountSuite) TestSave(c *qt.C) {
	a := &store.Account{Name: "Carol"}
	err := s.Store.CreateAccount(s.ctx, a)
	c.Assert(err, qt.IsNil)

	a.RealName = "Carol Jones"
	a.Email = "carol@example.com"
	a.EmailConfirmed = true
	a.Preferences = map[string]string{"timezone": "UTC"}
	err = s.Store.SaveAccount(s.ctx, a)
	c.Assert(err, qt.IsNil)

	a1, err := s.Store.Account(s.ctx, a.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(a1.RealName, qt.Equals, "Carol Jones")
	c.Assert(a1.Email, qt.Equals, "carol@example.com")
	c.Assert(a1.EmailConfirmed, qt.Equals, true)
	c.Assert(a1.Preferences, qt.DeepEquals, map[string]string{"timezone": "UTC"})

	a.Preferences = nil
	err = s.Store.SaveAccount(s.ctx, a)
	c.Assert(err, qt.IsNil)
	a1, err = s.Store.Account(s.ctx, a.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(a1.Preferences, qt.HasLen, 0)
}

func (s *accountSuite) TestSaveDuplicateName(c *qt.C) {
	err := s.Store.CreateAccount(s.ctx, &store.Account{Name: "Dave"})
	c.Assert(err, qt.IsNil)
	a := &store.Account{Name: "Erin"}
	err = s.Store.CreateAccount(s.ctx, a)
	c.Assert(err, qt.IsNil)

	a.Name = "dave"
	err = s.Store.SaveAccount(s.ctx, a)
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrDuplicateUsername)
}

func (s *accountSuite) TestAccountsByEmailAndRealName(c *qt.C) {
	accounts := []*store.Account{{
		Name:     "First",
		RealName: "Pat Doe",
		Email:    "pat@example.com",
	}, {
		Name:     "Second",
		RealName: "pat doe",
		Email:    "PAT@example.com",
	}, {
		Name:     "Third",
		RealName: "Someone Else",
		Email:    "else@example.com",
	}}
	for _, a := range accounts {
		err := s.Store.CreateAccount(s.ctx, a)
		c.Assert(err, qt.IsNil)
	}

	found, err := s.Store.AccountsByEmail(s.ctx, "Pat@Example.com")
	c.Assert(err, qt.IsNil)
	c.Assert(accountNames(found), qt.DeepEquals, []string{"First", "Second"})

	found, err = s.Store.AccountsByRealName(s.ctx, "PAT DOE")
	c.Assert(err, qt.IsNil)
	c.Assert(accountNames(found), qt.DeepEquals, []string{"First", "Second"})

	found, err = s.Store.AccountsByEmail(s.ctx, "nobody@example.com")
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.HasLen, 0)
}

func accountNames(accounts []*store.Account) []string {
	names := make([]string, len(accounts))
	for i, a := range accounts {
		names[i] = a.Name
	}
	return names
}
