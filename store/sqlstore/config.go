// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlstore

import (
	"database/sql"
	"time"

	"github.com/juju/clock"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/store"
)

// Params holds the "postgres" storage section of the configuration
// file.
type Params struct {
	// ConnectionString is passed to lib/pq, for example
	// "host=db dbname=hybridauth sslmode=verify-full".
	ConnectionString string `yaml:"connection-string"`

	// MaxOpenConns limits the number of open database connections.
	// Zero means no limit.
	MaxOpenConns int `yaml:"max-open-conns"`

	// ConnMaxLifetime is the longest a connection is reused for,
	// for example "30m". Zero means forever.
	ConnMaxLifetime time.Duration `yaml:"conn-max-lifetime"`
}

func init() {
	store.Register("postgres", func(unmarshal func(interface{}) error) (store.BackendFactory, error) {
		var p Params
		if err := unmarshal(&p); err != nil {
			return nil, errgo.Mask(err)
		}
		if p.MaxOpenConns < 0 {
			return nil, errgo.Newf("invalid max-open-conns %d", p.MaxOpenConns)
		}
		return p, nil
	})
}

// NewBackend implements store.BackendFactory by opening the configured
// PostgreSQL database.
func (p Params) NewBackend() (store.Backend, error) {
	db, err := sql.Open("postgres", p.ConnectionString)
	if err != nil {
		return nil, errgo.Notef(err, "cannot connect to database")
	}
	db.SetMaxOpenConns(p.MaxOpenConns)
	db.SetConnMaxLifetime(p.ConnMaxLifetime)
	logger.Infof("connecting to postgresql (max-open-conns %d)", p.MaxOpenConns)
	backend, err := NewBackend("postgres", db, clock.WallClock)
	if err != nil {
		db.Close()
		return nil, errgo.Notef(err, "cannot initialise database")
	}
	return backend, nil
}
