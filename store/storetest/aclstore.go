// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storetest

import (
	"context"

	qt "github.com/frankban/quicktest"
	"github.com/juju/aclstore/v2"
)

// TestACLStore runs tests on the given ACLStore implementation.
func TestACLStore(c *qt.C, newStore func(c *qt.C) aclstore.ACLStore) {
	ctx := context.Background()
	store := newStore(c)
	err := store.CreateACL(ctx, "admin", []string{"alice"})
	c.Assert(err, qt.IsNil)
	acl, err := store.Get(ctx, "admin")
	c.Assert(err, qt.IsNil)
	c.Assert(acl, qt.DeepEquals, []string{"alice"})

	// Creating an existing ACL leaves it untouched.
	err = store.CreateACL(ctx, "admin", []string{"mallory"})
	c.Assert(err, qt.IsNil)

	err = store.Add(ctx, "admin", []string{"bob"})
	c.Assert(err, qt.IsNil)
	acl, err = store.Get(ctx, "admin")
	c.Assert(err, qt.IsNil)
	c.Assert(acl, qt.DeepEquals, []string{"alice", "bob"})

	err = store.Remove(ctx, "admin", []string{"alice"})
	c.Assert(err, qt.IsNil)
	acl, err = store.Get(ctx, "admin")
	c.Assert(err, qt.IsNil)
	c.Assert(acl, qt.DeepEquals, []string{"bob"})
}
