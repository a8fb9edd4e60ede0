// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package session holds state that must survive between the steps of a
// single authentication ceremony.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/juju/simplekv"
	errgo "gopkg.in/errgo.v1"
)

var logger = loggo.GetLogger("hybridauth.internal.session")

// ErrNotFound is the error cause used when a session value does not
// exist or has expired.
var ErrNotFound = errgo.New("session value not found")

// Params holds the parameters for a Store.
type Params struct {
	// Store holds the key value store that holds session values.
	Store simplekv.Store

	// Clock is used to calculate the expiry time of values. If it is
	// nil the wall clock is used.
	Clock clock.Clock

	// Timeout holds the lifetime of a session value. If it is zero
	// values never expire.
	Timeout time.Duration
}

// A Store creates and resumes authentication sessions.
type Store struct {
	p Params
}

// NewStore returns a new Store with the given parameters.
func NewStore(p Params) *Store {
	if p.Clock == nil {
		p.Clock = clock.WallClock
	}
	return &Store{p: p}
}

// New starts a new session with a fresh identifier.
func (s *Store) New() *Session {
	return s.Session(uuid.New().String())
}

// Session resumes the session with the given identifier.
func (s *Store) Session(id string) *Session {
	return &Session{
		store: s,
		id:    id,
	}
}

// A Session holds the state of one authentication ceremony. Values are
// stored as JSON; when two requests write the same key the last write
// wins.
type Session struct {
	store *Store
	id    string
}

// ID returns the identifier of the session.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) key(key string) string {
	return s.id + "/" + key
}

// Get unmarshals the value stored under the given key into v. If there
// is no such value an error with a cause of ErrNotFound is returned.
func (s *Session) Get(ctx context.Context, key string, v interface{}) error {
	ctx, close := s.store.p.Store.Context(ctx)
	defer close()
	data, err := s.store.p.Store.Get(ctx, s.key(key))
	if errgo.Cause(err) == simplekv.ErrNotFound || err == nil && len(data) == 0 {
		return errgo.WithCausef(nil, ErrNotFound, "session value %q not found", key)
	}
	if err != nil {
		return errgo.Mask(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errgo.Notef(err, "cannot unmarshal session value %q", key)
	}
	return nil
}

// Set stores v under the given key.
func (s *Session) Set(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errgo.Notef(err, "cannot marshal session value %q", key)
	}
	var expire time.Time
	if s.store.p.Timeout > 0 {
		expire = s.store.p.Clock.Now().Add(s.store.p.Timeout)
	}
	ctx, close := s.store.p.Store.Context(ctx)
	defer close()
	if err := s.store.p.Store.Set(ctx, s.key(key), data, expire); err != nil {
		return errgo.Mask(err)
	}
	logger.Tracef("session %s: set %q", s.id, key)
	return nil
}

// Remove removes the value stored under the given key. Removing a value
// that does not exist is not an error.
func (s *Session) Remove(ctx context.Context, key string) error {
	ctx, close := s.store.p.Store.Context(ctx)
	defer close()
	// The store has no delete operation. An empty value is treated
	// as absent and expires straight away.
	expire := s.store.p.Clock.Now().Add(-time.Second)
	if err := s.store.p.Store.Set(ctx, s.key(key), []byte{}, expire); err != nil {
		return errgo.Mask(err)
	}
	return nil
}

// errKeep aborts a Take without removing the value.
var errKeep = errgo.New("keep session value")

// Take atomically unmarshals the value stored under the given key into
// v and removes it, so that of several concurrent calls only one
// succeeds. If check is not nil it is called once v has been filled
// in; if it returns an error the value is left in place and the error
// is returned with its cause preserved. If there is no value an error
// with a cause of ErrNotFound is returned.
func (s *Session) Take(ctx context.Context, key string, v interface{}, check func() error) error {
	ctx, close := s.store.p.Store.Context(ctx)
	defer close()
	var checkErr error
	expire := s.store.p.Clock.Now().Add(-time.Second)
	err := s.store.p.Store.Update(ctx, s.key(key), expire, func(old []byte) ([]byte, error) {
		if len(old) == 0 {
			return nil, errgo.WithCausef(nil, ErrNotFound, "session value %q not found", key)
		}
		if err := json.Unmarshal(old, v); err != nil {
			return nil, errgo.Notef(err, "cannot unmarshal session value %q", key)
		}
		if check != nil {
			if checkErr = check(); checkErr != nil {
				return nil, errKeep
			}
		}
		return []byte{}, nil
	})
	switch {
	case checkErr != nil:
		return checkErr
	case errgo.Cause(err) == simplekv.ErrNotFound:
		return errgo.WithCausef(nil, ErrNotFound, "session value %q not found", key)
	case err != nil:
		return errgo.Mask(err, errgo.Is(ErrNotFound))
	}
	logger.Tracef("session %s: took %q", s.id, key)
	return nil
}
