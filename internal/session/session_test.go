// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"
	"github.com/juju/simplekv/memsimplekv"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/internal/session"
)

type pending struct {
	Domain string            `json:"domain"`
	Key    string            `json:"key"`
	Fields map[string]string `json:"fields"`
}

func TestSetGetRemove(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := session.NewStore(session.Params{
		Store:   memsimplekv.NewStore(),
		Timeout: time.Hour,
	})
	s := st.New()
	c.Assert(s.ID(), qt.Not(qt.Equals), "")

	p := pending{
		Domain: "corp",
		Key:    "uid=alice,dc=example,dc=com",
		Fields: map[string]string{"username": "alice"},
	}
	err := s.Set(ctx, "pending", p)
	c.Assert(err, qt.IsNil)

	// A resumed session sees the value.
	var p1 pending
	err = st.Session(s.ID()).Get(ctx, "pending", &p1)
	c.Assert(err, qt.IsNil)
	c.Assert(p1, qt.DeepEquals, p)

	err = s.Remove(ctx, "pending")
	c.Assert(err, qt.IsNil)
	err = s.Get(ctx, "pending", &p1)
	c.Assert(errgo.Cause(err), qt.Equals, session.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `session value "pending" not found`)

	// Removing again is fine.
	err = s.Remove(ctx, "pending")
	c.Assert(err, qt.IsNil)
}

func TestSessionsAreIndependent(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := session.NewStore(session.Params{
		Store: memsimplekv.NewStore(),
	})
	s1 := st.New()
	s2 := st.New()
	c.Assert(s1.ID(), qt.Not(qt.Equals), s2.ID())

	err := s1.Set(ctx, "domain", "corp")
	c.Assert(err, qt.IsNil)

	var v string
	err = s2.Get(ctx, "domain", &v)
	c.Assert(errgo.Cause(err), qt.Equals, session.ErrNotFound)
}

func TestLastWriteWins(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := session.NewStore(session.Params{
		Store: memsimplekv.NewStore(),
	})
	s := st.New()
	err := s.Set(ctx, "domain", "corp")
	c.Assert(err, qt.IsNil)
	err = st.Session(s.ID()).Set(ctx, "domain", "partner")
	c.Assert(err, qt.IsNil)

	var v string
	err = s.Get(ctx, "domain", &v)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, "partner")
}

func TestExpiry(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	// The clock is behind real time so the value has already expired
	// when it is read.
	clk := testclock.NewClock(time.Now().Add(-2 * time.Hour))
	st := session.NewStore(session.Params{
		Store:   memsimplekv.NewStore(),
		Clock:   clk,
		Timeout: time.Hour,
	})
	s := st.New()
	err := s.Set(ctx, "domain", "corp")
	c.Assert(err, qt.IsNil)

	var v string
	err = s.Get(ctx, "domain", &v)
	c.Assert(errgo.Cause(err), qt.Equals, session.ErrNotFound)
}

func TestTake(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := session.NewStore(session.Params{
		Store: memsimplekv.NewStore(),
	})
	s := st.New()
	p := pending{Domain: "corp", Key: "alice"}
	err := s.Set(ctx, "pending", p)
	c.Assert(err, qt.IsNil)

	var p1 pending
	err = s.Take(ctx, "pending", &p1, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(p1, qt.DeepEquals, p)

	// The value has gone.
	err = s.Take(ctx, "pending", &p1, nil)
	c.Assert(errgo.Cause(err), qt.Equals, session.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `session value "pending" not found`)
	err = s.Get(ctx, "pending", &p1)
	c.Assert(errgo.Cause(err), qt.Equals, session.ErrNotFound)
}

func TestTakeCheckFailureKeepsValue(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := session.NewStore(session.Params{
		Store: memsimplekv.NewStore(),
	})
	s := st.New()
	err := s.Set(ctx, "pending", pending{Domain: "corp", Key: "alice"})
	c.Assert(err, qt.IsNil)

	checkErr := errgo.New("wrong domain")
	var p pending
	err = s.Take(ctx, "pending", &p, func() error {
		if p.Domain != "lab" {
			return checkErr
		}
		return nil
	})
	c.Assert(errgo.Cause(err), qt.Equals, checkErr)

	err = s.Take(ctx, "pending", &p, func() error {
		if p.Domain != "corp" {
			return checkErr
		}
		return nil
	})
	c.Assert(err, qt.IsNil)
	c.Assert(p.Key, qt.Equals, "alice")
}

func TestTakeConcurrent(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	st := session.NewStore(session.Params{
		Store: memsimplekv.NewStore(),
	})
	s := st.New()
	err := s.Set(ctx, "pending", pending{Domain: "corp", Key: "alice"})
	c.Assert(err, qt.IsNil)

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			var p pending
			errs <- st.Session(s.ID()).Take(ctx, "pending", &p, nil)
		}()
	}
	taken := 0
	for i := 0; i < n; i++ {
		err := <-errs
		if err == nil {
			taken++
			continue
		}
		c.Check(errgo.Cause(err), qt.Equals, session.ErrNotFound)
	}
	c.Assert(taken, qt.Equals, 1)
}
