// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ldap

import (
	"github.com/canonical/hybridauth/directory"
	"github.com/canonical/hybridauth/idp"
)

func SetDialer(p idp.Provider, dialer directory.Dialer) {
	p.(*provider).dial = dialer
}
