// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package admincmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/juju/cmd/v3"
	"github.com/juju/gnuflag"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/params"
)

type linksCommand struct {
	*hybridauthCommand

	accountID int64
	out       cmd.Output
}

func newLinksCommand(hc *hybridauthCommand) cmd.Command {
	return &linksCommand{
		hybridauthCommand: hc,
	}
}

var linksDoc = `
The links command lists the external identities linked to an account.

    hybridauth links 42
`

func (c *linksCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "links",
		Args:    "<account-id>",
		Purpose: "list the links of an account",
		Doc:     linksDoc,
	}
}

func (c *linksCommand) SetFlags(f *gnuflag.FlagSet) {
	c.hybridauthCommand.SetFlags(f)

	c.out.AddFlags(f, "tab", map[string]cmd.Formatter{
		"yaml": cmd.FormatYaml,
		"json": cmd.FormatJson,
		"tab":  formatLinksTab,
	})
}

func (c *linksCommand) Init(args []string) error {
	if len(args) < 1 {
		return errgo.New("account ID required")
	}
	id, err := parseAccountID(args[0])
	if err != nil {
		return errgo.Mask(err)
	}
	c.accountID = id
	return errgo.Mask(c.hybridauthCommand.Init(args[1:]))
}

func (c *linksCommand) Run(ctxt *cmd.Context) error {
	client, err := c.Client(ctxt)
	if err != nil {
		return errgo.Mask(err)
	}
	resp, err := client.Links(context.Background(), &params.LinksRequest{
		AccountID: c.accountID,
	})
	if err != nil {
		return errgo.Mask(err)
	}
	links := make([]link, len(resp.Links))
	for i, l := range resp.Links {
		links[i] = link{
			Domain:      l.Domain,
			ExternalKey: l.ExternalKey,
			Created:     l.Created.UTC().Format(time.RFC3339),
		}
	}
	return c.out.Write(ctxt, links)
}

// link represents a link in the command output.
type link struct {
	Domain      string `json:"domain" yaml:"domain"`
	ExternalKey string `json:"external-key" yaml:"external-key"`
	Created     string `json:"created" yaml:"created"`
}

func formatLinksTab(w io.Writer, value interface{}) error {
	links, ok := value.([]link)
	if !ok {
		return errgo.Newf("unexpected value %T", value)
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tEXTERNAL-KEY\tCREATED")
	for _, l := range links {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Domain, l.ExternalKey, l.Created)
	}
	return errgo.Mask(tw.Flush())
}

func parseAccountID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errgo.Newf("invalid account ID %q", s)
	}
	return id, nil
}
