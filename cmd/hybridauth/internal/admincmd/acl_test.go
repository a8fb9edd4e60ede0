// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package admincmd_test

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestACLShow(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	err := f.backend.ACLStore().Add(context.Background(), "link", []string{"alice", "bob"})
	c.Assert(err, qt.IsNil)
	stdout := f.CheckSuccess(c, "acl", "show", "link")
	c.Assert(stdout, qt.Equals, `
admin
alice
bob
`[1:])
}

func TestACLShowNoACL(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.CheckError(c, 2, `ACL name required`, "acl", "show")
}

func TestACLShowTwoACLs(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.CheckError(c, 2, `only one ACL may be specified`, "acl", "show", "link", "autocreate")
}

func TestACLShowInvalid(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.CheckError(c, 1, `.*ACL not found`, "acl", "show", "no-such-acl")
}

func TestACLGrant(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.CheckNoOutput(c, "acl", "grant", "link", "alice", "bob")
	acl, err := f.backend.ACLStore().Get(context.Background(), "link")
	c.Assert(err, qt.IsNil)
	c.Assert(acl, qt.DeepEquals, []string{"admin", "alice", "bob"})
}

func TestACLGrantNoArguments(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.CheckError(c, 2, `ACL name and at least one user required`, "acl", "grant")
}

func TestACLRevoke(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	err := f.backend.ACLStore().Add(context.Background(), "autocreate", []string{"corp"})
	c.Assert(err, qt.IsNil)
	f.CheckNoOutput(c, "acl", "revoke", "autocreate", "everyone")
	acl, err := f.backend.ACLStore().Get(context.Background(), "autocreate")
	c.Assert(err, qt.IsNil)
	c.Assert(acl, qt.DeepEquals, []string{"corp"})
}

func TestACLRevokeNoArguments(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.CheckError(c, 2, `ACL name and at least one user required`, "acl", "revoke")
}
