package sqlstore_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	aclstore "github.com/juju/aclstore/v2"
	"github.com/juju/clock/testclock"
	"github.com/juju/postgrestest"
	"github.com/juju/simplekv"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/store"
	"github.com/canonical/hybridauth/store/sqlstore"
	"github.com/canonical/hybridauth/store/storetest"
)

func TestLinkStore(t *testing.T) {
	c := qt.New(t)
	defer c.Done()

	storetest.TestLinkStore(c, func(c *qt.C) store.LinkStore {
		return newFixture(c).backend.LinkStore()
	})
}

func TestAccountStore(t *testing.T) {
	c := qt.New(t)
	defer c.Done()

	storetest.TestAccountStore(c, func(c *qt.C) store.AccountStore {
		return newFixture(c).backend.AccountStore()
	})
}

func TestSessionStore(t *testing.T) {
	c := qt.New(t)
	defer c.Done()

	storetest.TestSessionStore(c, func(c *qt.C) simplekv.Store {
		return newFixture(c).backend.SessionStore()
	})
}

func TestACLStore(t *testing.T) {
	c := qt.New(t)
	defer c.Done()

	storetest.TestACLStore(c, func(c *qt.C) aclstore.ACLStore {
		return newFixture(c).backend.ACLStore()
	})
}

func TestConfigUnmarshal(t *testing.T) {
	c := qt.New(t)
	defer c.Done()

	f := newFixture(c)
	storetest.TestUnmarshal(c, `
storage:
    type: postgres
    connection-string: 'search_path=`+f.pg.Schema()+`'
    max-open-conns: 4
    conn-max-lifetime: 5m
`)
}

func TestUnsupportedDriver(t *testing.T) {
	c := qt.New(t)

	_, err := sqlstore.NewBackend("sqlite3", nil, nil)
	c.Assert(err, qt.ErrorMatches, `unsupported database driver "sqlite3"`)
}

func TestLinkCreatedUsesClock(t *testing.T) {
	c := qt.New(t)
	defer c.Done()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixtureWithClock(c, testclock.NewClock(now))
	ls := f.backend.LinkStore()
	_, err := ls.Link(context.Background(), 1, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	links, err := ls.Links(context.Background(), 1)
	c.Assert(err, qt.IsNil)
	c.Assert(links, qt.HasLen, 1)
	c.Assert(links[0].Created.Equal(now), qt.Equals, true)
}

func TestInitIdempotent(t *testing.T) {
	c := qt.New(t)
	defer c.Done()

	f := newFixture(c)
	ctx := context.Background()

	a := &store.Account{
		Name:     "test-1",
		RealName: "Test User",
		Email:    "test-1@example.com",
		Preferences: map[string]string{
			"language": "en",
		},
	}
	err := f.backend.AccountStore().CreateAccount(ctx, a)
	c.Assert(err, qt.IsNil)
	_, err = f.backend.LinkStore().Link(ctx, a.ID, "corp", "uid=test-1")
	c.Assert(err, qt.IsNil)

	backend, err := sqlstore.NewBackend("postgres", f.pg.DB, nil)
	c.Assert(err, qt.IsNil)
	a1, err := backend.AccountStore().Account(ctx, a.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(a1.Name, qt.Equals, a.Name)
	c.Assert(a1.Preferences, qt.DeepEquals, a.Preferences)
	id, err := backend.LinkStore().AccountForExternalKey(ctx, "corp", "uid=test-1")
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, a.ID)
}

func TestSaveAccountNotFound(t *testing.T) {
	c := qt.New(t)
	defer c.Done()

	f := newFixture(c)
	err := f.backend.AccountStore().SaveAccount(context.Background(), &store.Account{
		ID:   1000000,
		Name: "Nobody",
	})
	c.Assert(err, qt.ErrorMatches, `account 1000000 not found`)
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
}

type fixture struct {
	backend store.Backend
	pg      *postgrestest.DB
}

func newFixture(c *qt.C) *fixture {
	return newFixtureWithClock(c, nil)
}

func newFixtureWithClock(c *qt.C, clk *testclock.Clock) *fixture {
	pg, err := postgrestest.New()
	if errgo.Cause(err) == postgrestest.ErrDisabled {
		c.Skip(err.Error())
	}
	c.Assert(err, qt.Equals, nil)

	var backend store.Backend
	if clk != nil {
		backend, err = sqlstore.NewBackend("postgres", pg.DB, clk)
	} else {
		backend, err = sqlstore.NewBackend("postgres", pg.DB, nil)
	}
	c.Assert(err, qt.Equals, nil)
	// Note: closing backend also closes the db.
	c.Defer(backend.Close)

	return &fixture{
		pg:      pg,
		backend: backend,
	}
}
