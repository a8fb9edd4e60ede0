// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package admincmd

import (
	"context"

	"github.com/juju/aclstore/v2/aclclient"
	"github.com/juju/cmd/v3"
	"github.com/juju/gnuflag"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/hybridclient"
)

var aclCmdDoc = `
The acl command is used to manage ACLs. The link ACL holds the users
that may remove links and the autocreate ACL holds the domains that may
create accounts automatically.
`

func newACLCommand(hc *hybridauthCommand) cmd.Command {
	supercmd := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "acl",
		Doc:     aclCmdDoc,
		Purpose: "manage hybridauth ACLs",
	})

	supercmd.Register(&aclGrantCommand{hybridauthCommand: hc})
	supercmd.Register(&aclRevokeCommand{hybridauthCommand: hc})
	supercmd.Register(&aclShowCommand{hybridauthCommand: hc})

	return supercmd
}

var aclShowDoc = `
The show command shows the members of the specified ACL.

    hybridauth acl show autocreate
`

type aclShowCommand struct {
	*hybridauthCommand
	name string
	out  cmd.Output
}

func (c *aclShowCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "show",
		Purpose: "show acl members",
		Doc:     aclShowDoc,
	}
}

func (c *aclShowCommand) SetFlags(f *gnuflag.FlagSet) {
	c.hybridauthCommand.SetFlags(f)
	c.out.AddFlags(f, "smart", cmd.DefaultFormatters.Formatters())
}

func (c *aclShowCommand) Init(args []string) error {
	if err := c.hybridauthCommand.Init(nil); err != nil {
		return errgo.Mask(err)
	}
	if len(args) < 1 {
		return errgo.New("ACL name required")
	}
	if len(args) > 1 {
		return errgo.New("only one ACL may be specified")
	}
	c.name = args[0]
	return nil
}

func (c *aclShowCommand) Run(ctxt *cmd.Context) error {
	client, err := aclClient(ctxt, c.hybridauthCommand)
	if err != nil {
		return errgo.Mask(err)
	}
	acl, err := client.Get(context.Background(), c.name)
	if err != nil {
		return errgo.Mask(err)
	}
	return errgo.Mask(c.out.Write(ctxt, acl))
}

var aclGrantDoc = `
The grant command adds users to the specified ACL.

    hybridauth acl grant autocreate corp partner
`

type aclGrantCommand struct {
	*hybridauthCommand
	name  string
	users []string
}

func (c *aclGrantCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "grant",
		Purpose: "add users to an ACL",
		Doc:     aclGrantDoc,
	}
}

func (c *aclGrantCommand) Init(args []string) error {
	if err := c.hybridauthCommand.Init(nil); err != nil {
		return errgo.Mask(err)
	}
	if len(args) < 2 {
		return errgo.New("ACL name and at least one user required")
	}
	c.name = args[0]
	c.users = args[1:]
	return nil
}

func (c *aclGrantCommand) Run(ctxt *cmd.Context) error {
	client, err := aclClient(ctxt, c.hybridauthCommand)
	if err != nil {
		return errgo.Mask(err)
	}
	return errgo.Mask(client.Add(context.Background(), c.name, c.users))
}

var aclRevokeDoc = `
The revoke command removes users from the specified ACL.

    hybridauth acl revoke autocreate partner
`

type aclRevokeCommand struct {
	*hybridauthCommand
	name  string
	users []string
}

func (c *aclRevokeCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "revoke",
		Purpose: "remove users from an ACL",
		Doc:     aclRevokeDoc,
	}
}

func (c *aclRevokeCommand) Init(args []string) error {
	if err := c.hybridauthCommand.Init(nil); err != nil {
		return errgo.Mask(err)
	}
	if len(args) < 2 {
		return errgo.New("ACL name and at least one user required")
	}
	c.name = args[0]
	c.users = args[1:]
	return nil
}

func (c *aclRevokeCommand) Run(ctxt *cmd.Context) error {
	client, err := aclClient(ctxt, c.hybridauthCommand)
	if err != nil {
		return errgo.Mask(err)
	}
	return errgo.Mask(client.Remove(context.Background(), c.name, c.users))
}

func aclClient(ctxt *cmd.Context, c *hybridauthCommand) (*aclclient.Client, error) {
	url, err := c.serverURL()
	if err != nil {
		return nil, errgo.Mask(err)
	}
	password, err := c.password(ctxt)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	doer, err := c.httpClient()
	if err != nil {
		return nil, errgo.Mask(err)
	}
	return aclclient.New(aclclient.NewParams{
		BaseURL: url + "/acl",
		Doer:    hybridclient.AdminDoer(doer, password),
	}), nil
}
