// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlstore

import (
	"context"
	"database/sql"
	"sort"

	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/store"
)

type accountStore struct {
	*backend
}

type accountFromParams struct {
	argBuilder

	Column string
	Value  interface{}
}

// Account implements store.AccountStore.Account.
func (s *accountStore) Account(_ context.Context, id int64) (*store.Account, error) {
	var a *store.Account
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		a, err = s.account(tx, "id", id)
		return err
	})
	if errgo.Cause(err) == sql.ErrNoRows {
		return nil, store.AccountNotFoundError(id, "")
	}
	if err != nil {
		return nil, errgo.Notef(err, "cannot get account")
	}
	return a, nil
}

// AccountByName implements store.AccountStore.AccountByName.
func (s *accountStore) AccountByName(_ context.Context, name string) (*store.Account, error) {
	cname, err := store.CanonicalName(name)
	if err != nil {
		return nil, store.AccountNotFoundError(0, name)
	}
	var a *store.Account
	err = s.withTx(func(tx *sql.Tx) error {
		var err error
		a, err = s.account(tx, "name", cname)
		return err
	})
	if errgo.Cause(err) == sql.ErrNoRows {
		return nil, store.AccountNotFoundError(0, cname)
	}
	if err != nil {
		return nil, errgo.Notef(err, "cannot get account")
	}
	return a, nil
}

func (s *accountStore) account(tx *sql.Tx, column string, value interface{}) (*store.Account, error) {
	row, err := s.driver.queryRow(tx, tmplAccountFrom, &accountFromParams{
		argBuilder: s.driver.argBuilderFunc(),
		Column:     column,
		Value:      value,
	})
	if err != nil {
		return nil, errgo.Mask(err)
	}
	var a store.Account
	if err := scanAccount(row, &a); err != nil {
		return nil, errgo.Mask(err, errgo.Is(sql.ErrNoRows))
	}
	if a.Preferences, err = s.preferences(tx, a.ID); err != nil {
		return nil, errgo.Mask(err)
	}
	return &a, nil
}

// AccountsByEmail implements store.AccountStore.AccountsByEmail.
func (s *accountStore) AccountsByEmail(_ context.Context, email string) ([]*store.Account, error) {
	return s.findAccounts("email", email)
}

// AccountsByRealName implements store.AccountStore.AccountsByRealName.
func (s *accountStore) AccountsByRealName(_ context.Context, realName string) ([]*store.Account, error) {
	return s.findAccounts("realname", realName)
}

func (s *accountStore) findAccounts(column, value string) ([]*store.Account, error) {
	if value == "" {
		return nil, nil
	}
	var accounts []*store.Account
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := s.driver.query(tx, tmplFindAccounts, &accountFromParams{
			argBuilder: s.driver.argBuilderFunc(),
			Column:     column,
			Value:      value,
		})
		if err != nil {
			return errgo.Mask(err)
		}
		defer rows.Close()
		for rows.Next() {
			var a store.Account
			if err := scanAccount(rows, &a); err != nil {
				return errgo.Mask(err)
			}
			accounts = append(accounts, &a)
		}
		if err := rows.Err(); err != nil {
			return errgo.Mask(err)
		}
		rows.Close()
		for _, a := range accounts {
			if a.Preferences, err = s.preferences(tx, a.ID); err != nil {
				return errgo.Mask(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errgo.Notef(err, "cannot find accounts")
	}
	return accounts, nil
}

type accountParams struct {
	argBuilder

	Account *store.Account
}

// CreateAccount implements store.AccountStore.CreateAccount.
func (s *accountStore) CreateAccount(_ context.Context, a *store.Account) error {
	name, err := store.CanonicalName(a.Name)
	if err != nil {
		return errgo.Mask(err, errgo.Is(store.ErrInvalidName))
	}
	a1 := a.Clone()
	a1.Name = name
	a1.Touched = s.clock.Now()
	err = s.withTx(func(tx *sql.Tx) error {
		row, err := s.driver.queryRow(tx, tmplInsertAccount, &accountParams{
			argBuilder: s.driver.argBuilderFunc(),
			Account:    a1,
		})
		if err != nil {
			return errgo.Mask(err)
		}
		if err := row.Scan(&a1.ID); err != nil {
			if s.driver.isDuplicateFunc(errgo.Cause(err)) {
				return store.DuplicateUsernameError(name)
			}
			return errgo.Mask(err)
		}
		return errgo.Mask(s.setPreferences(tx, a1.ID, a1.Preferences))
	})
	if err != nil {
		return errgo.Mask(err, errgo.Is(store.ErrDuplicateUsername))
	}
	a.ID, a.Name, a.Touched = a1.ID, a1.Name, a1.Touched
	return nil
}

// SaveAccount implements store.AccountStore.SaveAccount.
func (s *accountStore) SaveAccount(_ context.Context, a *store.Account) error {
	name, err := store.CanonicalName(a.Name)
	if err != nil {
		return errgo.Mask(err, errgo.Is(store.ErrInvalidName))
	}
	a1 := a.Clone()
	a1.Name = name
	a1.Touched = s.clock.Now()
	err = s.withTx(func(tx *sql.Tx) error {
		row, err := s.driver.queryRow(tx, tmplUpdateAccount, &accountParams{
			argBuilder: s.driver.argBuilderFunc(),
			Account:    a1,
		})
		if err != nil {
			return errgo.Mask(err)
		}
		var id int64
		switch err := row.Scan(&id); {
		case err == sql.ErrNoRows:
			return store.AccountNotFoundError(a1.ID, "")
		case s.driver.isDuplicateFunc(errgo.Cause(err)):
			return store.DuplicateUsernameError(name)
		case err != nil:
			return errgo.Mask(err)
		}
		return errgo.Mask(s.setPreferences(tx, a1.ID, a1.Preferences))
	})
	if err != nil {
		return errgo.Mask(err, errgo.Is(store.ErrNotFound), errgo.Is(store.ErrDuplicateUsername))
	}
	a.Name, a.Touched = a1.Name, a1.Touched
	return nil
}

type preferenceParams struct {
	argBuilder

	ID     int64
	Keys   []string
	Values map[string]string
}

func (s *accountStore) preferences(q queryer, id int64) (map[string]string, error) {
	rows, err := s.driver.query(q, tmplSelectPreferences, &preferenceParams{
		argBuilder: s.driver.argBuilderFunc(),
		ID:         id,
	})
	if err != nil {
		return nil, errgo.Mask(err)
	}
	defer rows.Close()
	var prefs map[string]string
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errgo.Mask(err)
		}
		if prefs == nil {
			prefs = make(map[string]string)
		}
		prefs[k] = v
	}
	return prefs, errgo.Mask(rows.Err())
}

func (s *accountStore) setPreferences(q queryer, id int64, prefs map[string]string) error {
	_, err := s.driver.exec(q, tmplClearPreferences, &preferenceParams{
		argBuilder: s.driver.argBuilderFunc(),
		ID:         id,
	})
	if err != nil || len(prefs) == 0 {
		return errgo.Mask(err)
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	_, err = s.driver.exec(q, tmplInsertPreferences, &preferenceParams{
		argBuilder: s.driver.argBuilderFunc(),
		ID:         id,
		Keys:       keys,
		Values:     prefs,
	})
	return errgo.Mask(err)
}

func scanAccount(s scanner, a *store.Account) error {
	var touched nullTime
	err := s.Scan(
		&a.ID,
		&a.Name,
		&a.RealName,
		&a.Email,
		&a.EmailConfirmed,
		&touched,
	)
	if err != nil {
		return errgo.Mask(err, errgo.Is(sql.ErrNoRows))
	}
	a.Touched = touched.Time
	return nil
}
