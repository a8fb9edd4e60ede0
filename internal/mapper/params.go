// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mapper

import (
	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/internal/attrsync"
)

// DomainParams holds the configuration of one domain.
type DomainParams struct {
	// Name holds the name of the domain. It is recorded in every
	// link made by the domain so it must not change.
	Name string `yaml:"name"`

	// Enabled records whether the domain may be used. It defaults
	// to true.
	Enabled *bool `yaml:"enabled"`

	// AutoCreate records whether accounts may be created for
	// external identities that do not map to an account. It
	// defaults to true. Creation is also subject to the autocreate
	// ACL.
	AutoCreate *bool `yaml:"auto-create"`

	// Authoritative records whether a credential failure in this
	// domain fails the authentication. When it is false other
	// authentication mechanisms may be tried instead.
	Authoritative bool `yaml:"authoritative"`

	// Provider holds the identity provider of the domain.
	Provider idp.Config `yaml:"provider"`

	// User holds the mapping policy.
	User UserParams `yaml:"user"`

	// Sync holds the attribute synchronization rules.
	Sync attrsync.Params `yaml:"sync"`
}

// UserParams holds the mapping policy of a domain.
type UserParams struct {
	// MapType holds the kind of attribute used to find an existing
	// account for a new external identity. It defaults to
	// "username".
	MapType string `yaml:"map-type"`

	// HintType holds the kind of attribute used to suggest an
	// account when mapping fails. It defaults to "username". When
	// it is the same as MapType no hint is made.
	HintType string `yaml:"hint-type"`

	// Attributes holds the provider attribute used for each
	// attribute kind, overriding the provider's defaults.
	Attributes map[string]string `yaml:"attributes"`
}

func (p DomainParams) enabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func (p DomainParams) autoCreate() bool {
	return p.AutoCreate == nil || *p.AutoCreate
}
