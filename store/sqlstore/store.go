package sqlstore

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"time"

	"github.com/juju/loggo"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/store"
)

var logger = loggo.GetLogger("hybridauth.store.sqlstore")

type linkStore struct {
	*backend
}

type linkParams struct {
	argBuilder

	Account int64
	Domain  string
	Key     string
	Created time.Time
}

func (s *linkStore) params(accountID int64, domain, key string) *linkParams {
	return &linkParams{
		argBuilder: s.driver.argBuilderFunc(),
		Account:    accountID,
		Domain:     domain,
		Key:        key,
	}
}

// AccountForExternalKey implements store.LinkStore.AccountForExternalKey.
func (s *linkStore) AccountForExternalKey(_ context.Context, domain, key string) (int64, error) {
	row, err := s.driver.queryRow(s.db, tmplAccountForKey, s.params(0, domain, key))
	if err != nil {
		return 0, errgo.Mask(err)
	}
	var id int64
	err = row.Scan(&id)
	if errgo.Cause(err) == sql.ErrNoRows {
		return 0, store.LinkNotFoundError(domain, key)
	}
	if err != nil {
		return 0, errgo.Notef(err, "cannot get link")
	}
	return id, nil
}

// ExternalKeyForAccount implements store.LinkStore.ExternalKeyForAccount.
func (s *linkStore) ExternalKeyForAccount(_ context.Context, accountID int64, domain string) (string, error) {
	key, err := s.externalKey(s.db, accountID, domain)
	if errgo.Cause(err) == sql.ErrNoRows {
		return "", store.AccountLinkNotFoundError(accountID, domain)
	}
	if err != nil {
		return "", errgo.Notef(err, "cannot get link")
	}
	return key, nil
}

func (s *linkStore) externalKey(q queryer, accountID int64, domain string) (string, error) {
	row, err := s.driver.queryRow(q, tmplKeyForAccount, s.params(accountID, domain, ""))
	if err != nil {
		return "", errgo.Mask(err)
	}
	var key string
	err = row.Scan(&key)
	return key, errgo.Mask(err, errgo.Is(sql.ErrNoRows))
}

// DomainsForAccount implements store.LinkStore.DomainsForAccount.
func (s *linkStore) DomainsForAccount(_ context.Context, accountID int64) ([]string, error) {
	rows, err := s.driver.query(s.db, tmplDomainsForAccount, s.params(accountID, "", ""))
	if err != nil {
		return nil, errgo.Notef(err, "cannot get domains")
	}
	defer rows.Close()
	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, errgo.Mask(err)
		}
		domains = append(domains, domain)
	}
	return domains, errgo.Mask(rows.Err())
}

// IsLinked implements store.LinkStore.IsLinked.
func (s *linkStore) IsLinked(_ context.Context, accountID int64, domain string) (bool, error) {
	_, err := s.externalKey(s.db, accountID, domain)
	if errgo.Cause(err) == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errgo.Notef(err, "cannot get link")
	}
	return true, nil
}

// Link implements store.LinkStore.Link.
func (s *linkStore) Link(_ context.Context, accountID int64, domain, key string) (bool, error) {
	if accountID == 0 {
		return false, nil
	}
	var replaced bool
	err := s.withTx(func(tx *sql.Tx) error {
		_, err := s.externalKey(tx, accountID, domain)
		switch errgo.Cause(err) {
		case nil:
			replaced = true
		case sql.ErrNoRows:
		default:
			return errgo.Mask(err)
		}
		params := s.params(accountID, domain, key)
		params.Created = s.clock.Now()
		_, err = s.driver.exec(tx, tmplUpsertLink, params)
		if s.driver.isDuplicateFunc(errgo.Cause(err)) {
			return store.DuplicateKeyError(domain, key)
		}
		return errgo.Mask(err)
	})
	if err != nil {
		return false, errgo.Mask(err, errgo.Is(store.ErrDuplicateKey))
	}
	return replaced, nil
}

// Unlink implements store.LinkStore.Unlink.
func (s *linkStore) Unlink(_ context.Context, accountID int64, domain string) (bool, error) {
	return s.delete(tmplDeleteLink, s.params(accountID, domain, ""))
}

// UnlinkByExternalKey implements store.LinkStore.UnlinkByExternalKey.
func (s *linkStore) UnlinkByExternalKey(_ context.Context, domain, key string) (bool, error) {
	return s.delete(tmplDeleteLinkByKey, s.params(0, domain, key))
}

func (s *linkStore) delete(tmplID tmplID, params *linkParams) (bool, error) {
	res, err := s.driver.exec(s.db, tmplID, params)
	if err != nil {
		return false, errgo.Notef(err, "cannot remove link")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errgo.Mask(err)
	}
	return n > 0, nil
}

// Links implements store.LinkStore.Links.
func (s *linkStore) Links(_ context.Context, accountID int64) ([]store.Link, error) {
	rows, err := s.driver.query(s.db, tmplLinksForAccount, s.params(accountID, "", ""))
	if err != nil {
		return nil, errgo.Notef(err, "cannot get links")
	}
	defer rows.Close()
	var links []store.Link
	for rows.Next() {
		var l store.Link
		if err := rows.Scan(&l.AccountID, &l.Domain, &l.ExternalKey, &l.Created); err != nil {
			return nil, errgo.Mask(err)
		}
		links = append(links, l)
	}
	return links, errgo.Mask(rows.Err())
}

// LinkCounts implements store.LinkStore.LinkCounts.
func (s *linkStore) LinkCounts(context.Context) (map[string]int, error) {
	rows, err := s.driver.query(s.db, tmplLinkCounts, s.driver.argBuilderFunc())
	if err != nil {
		return nil, errgo.Notef(err, "cannot count links")
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var domain string
		var n int
		if err := rows.Scan(&domain, &n); err != nil {
			return nil, errgo.Mask(err)
		}
		counts[domain] = n
	}
	return counts, errgo.Mask(rows.Err())
}

type nullTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (n *nullTime) Scan(src interface{}) error {
	if src == nil {
		n.Time = time.Time{}
		n.Valid = false
		return nil
	}
	if t, ok := src.(time.Time); ok {
		n.Time = t
		n.Valid = true
		return nil
	}
	return errgo.Newf("unsupported Scan, storing driver.Value type %T into type %T", src, n)
}

// Value implements sqldriver.Valuer.
func (n nullTime) Value() (sqldriver.Value, error) {
	if n.Valid {
		return n.Time, nil
	}
	return nil, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}
