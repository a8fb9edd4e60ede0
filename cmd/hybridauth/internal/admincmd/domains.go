// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package admincmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/juju/cmd/v3"
	"github.com/juju/gnuflag"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/params"
)

type domainsCommand struct {
	*hybridauthCommand

	out cmd.Output
}

func newDomainsCommand(hc *hybridauthCommand) cmd.Command {
	return &domainsCommand{
		hybridauthCommand: hc,
	}
}

var domainsDoc = `
The domains command lists the configured external identity domains.

    hybridauth domains
`

func (c *domainsCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "domains",
		Purpose: "list domains",
		Doc:     domainsDoc,
	}
}

func (c *domainsCommand) SetFlags(f *gnuflag.FlagSet) {
	c.hybridauthCommand.SetFlags(f)

	c.out.AddFlags(f, "tab", map[string]cmd.Formatter{
		"yaml": cmd.FormatYaml,
		"json": cmd.FormatJson,
		"tab":  formatDomainsTab,
	})
}

func (c *domainsCommand) Init(args []string) error {
	return errgo.Mask(c.hybridauthCommand.Init(args))
}

func (c *domainsCommand) Run(ctxt *cmd.Context) error {
	client, err := c.Client(ctxt)
	if err != nil {
		return errgo.Mask(err)
	}
	resp, err := client.Domains(context.Background(), &params.DomainsRequest{})
	if err != nil {
		return errgo.Mask(err)
	}
	domains := make([]domain, len(resp.Domains))
	for i, d := range resp.Domains {
		domains[i] = domain{
			Name:        d.Name,
			Type:        d.Type,
			Description: d.Description,
			Enabled:     d.Enabled,
			AutoCreate:  d.AutoCreate,
		}
	}
	return c.out.Write(ctxt, domains)
}

// domain represents a domain in the command output.
type domain struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	AutoCreate  bool   `json:"auto-create" yaml:"auto-create"`
}

func formatDomainsTab(w io.Writer, value interface{}) error {
	domains, ok := value.([]domain)
	if !ok {
		return errgo.Newf("unexpected value %T", value)
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tENABLED\tAUTO-CREATE\tDESCRIPTION")
	for _, d := range domains {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%v\t%s\n", d.Name, d.Type, d.Enabled, d.AutoCreate, d.Description)
	}
	return errgo.Mask(tw.Flush())
}
