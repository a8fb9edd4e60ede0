// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store_test

import (
	"testing"

	qt "github.com/frankban/quicktest"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/store"
)

func TestNotFoundErrors(t *testing.T) {
	c := qt.New(t)
	err := store.AccountNotFoundError(1234, "")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `account 1234 not found`)
	err = store.AccountNotFoundError(0, "Bob")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `account "Bob" not found`)
	err = store.LinkNotFoundError("corp", "uid=bob")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `corp: external identity "uid=bob" not linked`)
	err = store.AccountLinkNotFoundError(12, "corp")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `corp: account 12 not linked`)
}

func TestDuplicateErrors(t *testing.T) {
	c := qt.New(t)
	err := store.DuplicateUsernameError("test-user")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrDuplicateUsername)
	c.Assert(err, qt.ErrorMatches, `username test-user already in use`)
	err = store.DuplicateKeyError("corp", "uid=bob")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrDuplicateKey)
	c.Assert(err, qt.ErrorMatches, `corp: external identity "uid=bob" already linked`)
}
