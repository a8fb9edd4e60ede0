// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package admincmd

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/juju/cmd/v3"
	"github.com/juju/gnuflag"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/hybridclient"
)

// Environment variables used by the command.
const (
	urlEnvKey      = "HYBRIDAUTH_URL"
	passwordEnvKey = "HYBRIDAUTH_ADMIN_PASSWORD"
	caCertsEnvKey  = "HYBRIDAUTH_CA_CERTS"

	// loggingConfigEnvKey matches osenv.JujuLoggingConfigEnvKey
	// in the Juju project.
	loggingConfigEnvKey = "JUJU_LOGGING_CONFIG"
)

var cmdDoc = `
Manage the links between external identities and accounts on a
hybridauth server. The server is specified either by setting the
HYBRIDAUTH_URL environment variable, or by setting the --url command
line parameter.

Requests are made as the admin user. The admin password is read from
the file named by the --password-file parameter or, failing that, from
the HYBRIDAUTH_ADMIN_PASSWORD environment variable.

To configure additional CA certificates for the client an environment
variable HYBRIDAUTH_CA_CERTS can be used. This contains a colon
separated list of files which should each contain a list of PEM encoded
certificates. All of these certificates will be added to the
certificates from the system pool. Any file in the list which cannot be
found, or cannot be read by the current user will be silently skipped.
`

// New returns the hybridauth admin command.
func New() cmd.Command {
	c := new(hybridauthCommand)
	supercmd := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "hybridauth",
		Doc:     cmdDoc,
		Purpose: "manage identity links on a hybridauth server",
		Log: &cmd.Log{
			DefaultConfig: os.Getenv(loggingConfigEnvKey),
		},
		GlobalFlags: c,
	})
	supercmd.Register(newACLCommand(c))
	supercmd.Register(newDomainsCommand(c))
	supercmd.Register(newLinksCommand(c))
	supercmd.Register(newUnlinkCommand(c))
	return supercmd
}

// hybridauthCommand is a cmd.Command that provides a client for
// communicating with a hybridauth server.
type hybridauthCommand struct {
	cmd.CommandBase

	url          string
	passwordFile string

	// mu protects the fields below it.
	mu     sync.Mutex
	doer   *http.Client
	client *hybridclient.Client
}

// AddFlags implements cmd.FlagAdder to add global flags
// to the flag set.
func (c *hybridauthCommand) AddFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.url, "url", "", "URL of the hybridauth server (defaults to $"+urlEnvKey+")")
	f.StringVar(&c.passwordFile, "password-file", "", "name of file containing the admin password (defaults to $"+passwordEnvKey+")")
}

// serverURL returns the URL of the hybridauth server.
func (c *hybridauthCommand) serverURL() (string, error) {
	url := c.url
	if url == "" {
		url = os.Getenv(urlEnvKey)
	}
	if url == "" {
		return "", errgo.Newf("no server specified, please set --url or $%s", urlEnvKey)
	}
	return strings.TrimSuffix(url, "/"), nil
}

// password returns the admin password.
func (c *hybridauthCommand) password(ctxt *cmd.Context) (string, error) {
	if c.passwordFile == "" {
		return os.Getenv(passwordEnvKey), nil
	}
	data, err := ioutil.ReadFile(ctxt.AbsPath(c.passwordFile))
	if err != nil {
		return "", errgo.Notef(err, "cannot read password")
	}
	return strings.TrimSpace(string(data)), nil
}

// httpClient returns the HTTP client used to make requests.
func (c *hybridauthCommand) httpClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doer != nil {
		return c.doer, nil
	}
	client := new(http.Client)
	if err := loadCACerts(client); err != nil {
		return nil, errgo.Mask(err)
	}
	c.doer = client
	return client, nil
}

// loadCACerts loads any certificates found in the files specified by
// HYBRIDAUTH_CA_CERTS, if any, and adds them to the system CA
// certificates for this client.
func loadCACerts(client *http.Client) error {
	certPool, err := x509.SystemCertPool()
	if err != nil {
		return errgo.Notef(err, "cannot load system CA certificates")
	}
	for _, fn := range filepath.SplitList(os.Getenv(caCertsEnvKey)) {
		buf, err := ioutil.ReadFile(fn)
		if os.IsNotExist(err) || os.IsPermission(err) {
			// If the file doesn't exist, or is not readable
			// ignore it. This allows the environment
			// variable to be set with potential paths even
			// when there are no certificates to load.
			continue
		}
		if err != nil {
			return errgo.Notef(err, "cannot load CA certificates")
		}
		certPool.AppendCertsFromPEM(buf)
	}
	client.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs: certPool,
		},
	}
	return nil
}

// Client creates a new hybridclient.Client using the parameters
// specified in the flags and environment.
func (c *hybridauthCommand) Client(ctxt *cmd.Context) (*hybridclient.Client, error) {
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
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := hybridclient.New(hybridclient.NewParams{
		BaseURL:  url,
		Password: password,
		Doer:     doer,
	})
	if err != nil {
		return nil, errgo.Mask(err)
	}
	c.client = client
	return client, nil
}
