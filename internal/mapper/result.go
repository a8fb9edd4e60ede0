// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mapper

import (
	"github.com/canonical/hybridauth/store"
)

// A MapResult is the result of mapping an external identity to an
// account. It is one of Mapped, Hinted, Failed or NoMatch.
type MapResult interface {
	mapResult()
}

// Mapped is the result when an existing unlinked account matches the
// external identity.
type Mapped struct {
	Account *store.Account
}

// Hinted is the result when no account matches but one is suggested.
type Hinted struct {
	Hint Hint
}

// Failed is the result when mapping could not be attempted.
type Failed struct {
	Err error
}

// NoMatch is the result when no account matches and none is suggested.
type NoMatch struct{}

func (Mapped) mapResult()  {}
func (Hinted) mapResult()  {}
func (Failed) mapResult()  {}
func (NoMatch) mapResult() {}

// A Hint suggests an account for an external identity.
type Hint struct {
	// Name holds the canonical name of the account.
	Name string

	// Exists records whether the account exists. If it does not the
	// name may be used to create it.
	Exists bool

	// AccountID holds the ID of the account when it exists.
	AccountID int64
}
