// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storetest

import (
	"context"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/frankban/quicktest/qtsuite"
	"github.com/juju/simplekv"
	errgo "gopkg.in/errgo.v1"
)

type sessionStoreSuite struct {
	newStore func(c *qt.C) simplekv.Store
	Store    simplekv.Store
}

// TestSessionStore runs a suite of tests on the key value store used to
// hold authentication sessions.
func TestSessionStore(c *qt.C, newStore func(c *qt.C) simplekv.Store) {
	qtsuite.Run(c, &sessionStoreSuite{
		newStore: newStore,
	})
}

func (s *sessionStoreSuite) Init(c *qt.C) {
	s.Store = s.newStore(c)
}

func (s *sessionStoreSuite) TestSet(c *qt.C) {
	ctx, close := s.Store.Context(context.Background())
	defer close()

	err := s.Store.Set(ctx, "test-key", []byte("test-value"), time.Time{})
	c.Assert(err, qt.IsNil)

	result, err := s.Store.Get(ctx, "test-key")
	c.Assert(err, qt.IsNil)
	c.Assert(string(result), qt.Equals, "test-value")

	// Try again with an existing record, which might trigger different behavior.
	err = s.Store.Set(ctx, "test-key", []byte("test-value-2"), time.Time{})
	c.Assert(err, qt.IsNil)

	result, err = s.Store.Get(ctx, "test-key")
	c.Assert(err, qt.IsNil)
	c.Assert(string(result), qt.Equals, "test-value-2")
}

func (s *sessionStoreSuite) TestGetNotFound(c *qt.C) {
	ctx, close := s.Store.Context(context.Background())
	defer close()

	_, err := s.Store.Get(ctx, "test-not-there-key")
	c.Assert(errgo.Cause(err), qt.Equals, simplekv.ErrNotFound)
}

func (s *sessionStoreSuite) TestSetKeyOnceDuplicate(c *qt.C) {
	ctx, close := s.Store.Context(context.Background())
	defer close()

	err := simplekv.SetKeyOnce(ctx, s.Store, "test-key", []byte("test-value"), time.Time{})
	c.Assert(err, qt.IsNil)

	err = simplekv.SetKeyOnce(ctx, s.Store, "test-key", []byte("test-value"), time.Time{})
	c.Assert(errgo.Cause(err), qt.Equals, simplekv.ErrDuplicateKey)
}

func (s *sessionStoreSuite) TestUpdate(c *qt.C) {
	ctx, close := s.Store.Context(context.Background())
	defer close()

	err := s.Store.Update(ctx, "test-key", time.Time{}, func(oldVal []byte) ([]byte, error) {
		c.Check(oldVal, qt.IsNil)
		return []byte("test-value"), nil
	})
	c.Assert(err, qt.IsNil)

	err = s.Store.Update(ctx, "test-key", time.Time{}, func(oldVal []byte) ([]byte, error) {
		c.Check(string(oldVal), qt.Equals, "test-value")
		return []byte("test-value-2"), nil
	})
	c.Assert(err, qt.IsNil)

	val, err := s.Store.Get(ctx, "test-key")
	c.Assert(err, qt.IsNil)
	c.Assert(string(val), qt.Equals, "test-value-2")
}

func (s *sessionStoreSuite) TestUpdateError(c *qt.C) {
	ctx, close := s.Store.Context(context.Background())
	defer close()

	testErr := errgo.Newf("test error")
	err := s.Store.Update(ctx, "test-key", time.Time{}, func(oldVal []byte) ([]byte, error) {
		return nil, testErr
	})
	c.Check(errgo.Cause(err), qt.Equals, testErr)
}

func (s *sessionStoreSuite) TestExpiredKey(c *qt.C) {
	ctx, close := s.Store.Context(context.Background())
	defer close()

	err := s.Store.Set(ctx, "test-key", []byte("test-value"), time.Now().Add(-time.Minute))
	c.Assert(err, qt.IsNil)

	_, err = s.Store.Get(ctx, "test-key")
	c.Assert(errgo.Cause(err), qt.Equals, simplekv.ErrNotFound)
}
