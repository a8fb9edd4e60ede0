// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	errgo "gopkg.in/errgo.v1"
)

var (
	// ErrNotFound is the error cause used when a link or account
	// cannot be found in storage.
	ErrNotFound = errgo.New("not found")

	// ErrDuplicateUsername is the error cause used when an account
	// is created or renamed with a name that is already in use.
	ErrDuplicateUsername = errgo.New("duplicate username")

	// ErrDuplicateKey is the error cause used when linking an
	// external key that is already linked to a different account.
	ErrDuplicateKey = errgo.New("duplicate key")

	// ErrInvalidName is the error cause used when an account name
	// cannot be used.
	ErrInvalidName = errgo.New("invalid name")
)

// LinkNotFoundError creates a new error with a cause of ErrNotFound for
// a missing link of the given external key.
func LinkNotFoundError(domain, key string) error {
	err := errgo.WithCausef(nil, ErrNotFound, "%s: external identity %q not linked", domain, key)
	err.(*errgo.Err).SetLocation(1)
	return err
}

// AccountLinkNotFoundError creates a new error with a cause of
// ErrNotFound for a missing link of the given account.
func AccountLinkNotFoundError(accountID int64, domain string) error {
	err := errgo.WithCausef(nil, ErrNotFound, "%s: account %d not linked", domain, accountID)
	err.(*errgo.Err).SetLocation(1)
	return err
}

// AccountNotFoundError creates a new error with a cause of ErrNotFound
// and an appropriate message. Exactly one of id and name should be set.
func AccountNotFoundError(id int64, name string) error {
	var err error
	if name != "" {
		err = errgo.WithCausef(nil, ErrNotFound, "account %q not found", name)
	} else {
		err = errgo.WithCausef(nil, ErrNotFound, "account %d not found", id)
	}
	err.(*errgo.Err).SetLocation(1)
	return err
}

// DuplicateUsernameError creates a new error with a cause of
// ErrDuplicateUsername and an appropriate message.
func DuplicateUsernameError(username string) error {
	err := errgo.WithCausef(nil, ErrDuplicateUsername, "username %s already in use", username)
	err.(*errgo.Err).SetLocation(1)
	return err
}

// DuplicateKeyError creates a new error with a cause of ErrDuplicateKey
// and an appropriate message.
func DuplicateKeyError(domain, key string) error {
	err := errgo.WithCausef(nil, ErrDuplicateKey, "%s: external identity %q already linked", domain, key)
	err.(*errgo.Err).SetLocation(1)
	return err
}
