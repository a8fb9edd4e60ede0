// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package admincmd

import (
	"context"

	"github.com/juju/cmd/v3"
	"github.com/juju/gnuflag"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/params"
)

type unlinkCommand struct {
	*hybridauthCommand

	domain      string
	externalKey string
	accountID   int64
}

func newUnlinkCommand(hc *hybridauthCommand) cmd.Command {
	return &unlinkCommand{
		hybridauthCommand: hc,
	}
}

var unlinkDoc = `
The unlink command removes a link between an external identity and an
account. The link is specified either by the external identity:

    hybridauth unlink -d corp -k uid=alice,ou=people,dc=example,dc=com

or by the account it is linked to:

    hybridauth unlink -d corp 42

The domain need not be configured on the server, so links made by a
retired domain can be removed.
`

func (c *unlinkCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "unlink",
		Args:    "[<account-id>]",
		Purpose: "remove a link",
		Doc:     unlinkDoc,
	}
}

func (c *unlinkCommand) SetFlags(f *gnuflag.FlagSet) {
	c.hybridauthCommand.SetFlags(f)

	f.StringVar(&c.domain, "d", "", "domain of the link")
	f.StringVar(&c.domain, "domain", "", "")
	f.StringVar(&c.externalKey, "k", "", "external key of the linked identity")
	f.StringVar(&c.externalKey, "external-key", "", "")
}

func (c *unlinkCommand) Init(args []string) error {
	if c.domain == "" {
		return errgo.New("no domain specified")
	}
	switch {
	case c.externalKey != "" && len(args) > 0:
		return errgo.New("both external key and account ID specified, please specify only one")
	case c.externalKey == "" && len(args) == 0:
		return errgo.New("no link specified, please specify either external key or account ID")
	case len(args) > 0:
		id, err := parseAccountID(args[0])
		if err != nil {
			return errgo.Mask(err)
		}
		c.accountID = id
		args = args[1:]
	}
	return errgo.Mask(c.hybridauthCommand.Init(args))
}

func (c *unlinkCommand) Run(ctxt *cmd.Context) error {
	client, err := c.Client(ctxt)
	if err != nil {
		return errgo.Mask(err)
	}
	ctx := context.Background()
	var resp *params.UnlinkResponse
	if c.accountID != 0 {
		resp, err = client.UnlinkAccount(ctx, &params.UnlinkAccountRequest{
			AccountID: c.accountID,
			Domain:    c.domain,
		})
	} else {
		resp, err = client.Unlink(ctx, &params.UnlinkRequest{
			Body: params.UnlinkBody{
				Domain:      c.domain,
				ExternalKey: c.externalKey,
			},
		})
	}
	if err != nil {
		return errgo.Mask(err)
	}
	if !resp.Existed {
		return errgo.Newf("no link found in domain %q", c.domain)
	}
	return nil
}
