// Copyright 2014 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/handlers"
	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/canonical/hybridauth"
	"github.com/canonical/hybridauth/config"
	_ "github.com/canonical/hybridauth/idp/ldap"
	_ "github.com/canonical/hybridauth/idp/static"
	_ "github.com/canonical/hybridauth/store/memstore"
	_ "github.com/canonical/hybridauth/store/sqlstore"
)

var logger = loggo.GetLogger("hybridauthsrv")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options] <config path>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		exit(2)
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
	}
	confPath := flag.Arg(0)
	conf, err := config.Read(confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "STOP cannot read configuration: %v\n", err)
		exit(2)
	}
	if err := loggo.ConfigureLoggers(conf.LoggingConfig); err != nil {
		fmt.Fprintf(os.Stderr, "STOP cannot configure loggers: %v", err)
		exit(2)
	}
	if err := serve(conf); err != nil {
		fmt.Fprintf(os.Stderr, "STOP %v\n", err)
		exit(1)
	}
	fmt.Fprintln(os.Stderr, "STOP no error, weirdly")
	exit(0)
}

// exit calls os.Exit, first sleeping for a bit to work
// around an outrageous systemd bug which causes
// final output lines to be lost if we exit immediately.
// See https://github.com/systemd/systemd/issues/2913
//
// Note: exit status 2 implies we won't restart the service.
func exit(code int) {
	time.Sleep(200 * time.Millisecond)
	os.Exit(code)
}

// serve starts the hybridauth service.
func serve(conf *config.Config) error {
	logger.Infof("opening the storage backend")
	backend, err := conf.Storage.NewBackend()
	if err != nil {
		return errgo.Notef(err, "cannot open storage backend")
	}
	defer backend.Close()
	tlsConfig, err := conf.TLSConfig()
	if err != nil {
		return errgo.Mask(err)
	}

	logger.Infof("setting up the hybridauth server")
	srv, err := hybridauth.NewServer(hybridauth.ServerParams{
		LinkStore:         backend.LinkStore(),
		AccountStore:      backend.AccountStore(),
		SessionStore:      backend.SessionStore(),
		ACLStore:          backend.ACLStore(),
		AdminPassword:     conf.AdminPassword,
		Location:          conf.Location,
		Domains:           conf.Domains,
		LocalEnabled:      conf.LocalEnabled,
		SessionTimeout:    conf.SessionTimeout.Duration,
		InitialAutoCreate: conf.AutoCreate,
	}, hybridauth.Debug, hybridauth.V1)
	if err != nil {
		return errgo.Notef(err, "cannot create new server at %q", conf.ListenAddress)
	}
	defer srv.Close()

	// Cast the Server to an http.Handler so that it can be
	// optionally wrapped by the logging handler below.
	var server http.Handler = srv

	if conf.AccessLog != "" {
		accesslog := &lumberjack.Logger{
			Filename:   conf.AccessLog,
			MaxSize:    500, // megabytes
			MaxBackups: 3,
			MaxAge:     28, //days
		}
		server = handlers.CombinedLoggingHandler(accesslog, server)
	}

	logger.Infof("starting the hybridauth server")

	httpServer := &http.Server{
		Addr:      conf.ListenAddress,
		Handler:   server,
		TLSConfig: tlsConfig,
	}
	fmt.Println("START")
	if tlsConfig != nil {
		return httpServer.ListenAndServeTLS("", "")
	}
	return httpServer.ListenAndServe()
}
