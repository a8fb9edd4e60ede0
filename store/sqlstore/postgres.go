package sqlstore

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	errgo "gopkg.in/errgo.v1"
)

const postgresInit = `
CREATE TABLE IF NOT EXISTS accounts (
	id BIGSERIAL PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	realname TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	email_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	touched TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS accounts_email ON accounts (lower(email));
CREATE INDEX IF NOT EXISTS accounts_realname ON accounts (lower(realname));

CREATE TABLE IF NOT EXISTS account_preferences (
	account BIGINT REFERENCES accounts NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE (account, key)
);

CREATE TABLE IF NOT EXISTS links (
	account BIGINT NOT NULL,
	domain TEXT NOT NULL,
	external_key TEXT NOT NULL,
	created TIMESTAMP WITH TIME ZONE NOT NULL,
	UNIQUE (account, domain),
	UNIQUE (domain, external_key)
);
`

var postgresTmpls = [numTmpl]string{
	tmplAccountForKey: `
		SELECT account FROM links
		WHERE domain={{.Domain | .Arg}} AND external_key={{.Key | .Arg}}`,
	tmplKeyForAccount: `
		SELECT external_key FROM links
		WHERE account={{.Account | .Arg}} AND domain={{.Domain | .Arg}}`,
	tmplDomainsForAccount: `
		SELECT domain FROM links
		WHERE account={{.Account | .Arg}}
		ORDER BY domain`,
	tmplLinksForAccount: `
		SELECT account, domain, external_key, created FROM links
		WHERE account={{.Account | .Arg}}
		ORDER BY domain`,
	tmplUpsertLink: `
		INSERT INTO links (account, domain, external_key, created)
		VALUES ({{.Account | .Arg}}, {{.Domain | .Arg}}, {{.Key | .Arg}}, {{.Created | .Arg}})
		ON CONFLICT (account, domain) DO UPDATE
		SET external_key={{.Key | .Arg}}, created={{.Created | .Arg}}`,
	tmplDeleteLink: `
		DELETE FROM links
		WHERE account={{.Account | .Arg}} AND domain={{.Domain | .Arg}}`,
	tmplDeleteLinkByKey: `
		DELETE FROM links
		WHERE domain={{.Domain | .Arg}} AND external_key={{.Key | .Arg}}`,
	tmplLinkCounts: `
		SELECT domain, COUNT(*) FROM links
		GROUP BY domain`,
	tmplAccountFrom: `
		SELECT id, name, realname, email, email_confirmed, touched
		FROM accounts
		WHERE {{.Column}}={{.Value | .Arg}}`,
	tmplFindAccounts: `
		SELECT id, name, realname, email, email_confirmed, touched
		FROM accounts
		WHERE lower({{.Column}})=lower({{.Value | .Arg}})
		ORDER BY id`,
	tmplInsertAccount: `
		INSERT INTO accounts (name, realname, email, email_confirmed, touched)
		VALUES ({{.Account.Name | .Arg}}, {{.Account.RealName | .Arg}}, {{.Account.Email | .Arg}}, {{.Account.EmailConfirmed | .Arg}}, {{.Account.Touched | .Arg}})
		RETURNING id`,
	tmplUpdateAccount: `
		UPDATE accounts
		SET name={{.Account.Name | .Arg}}, realname={{.Account.RealName | .Arg}}, email={{.Account.Email | .Arg}}, email_confirmed={{.Account.EmailConfirmed | .Arg}}, touched={{.Account.Touched | .Arg}}
		WHERE id={{.Account.ID | .Arg}}
		RETURNING id`,
	tmplSelectPreferences: `
		SELECT key, value FROM account_preferences
		WHERE account={{.ID | .Arg}}`,
	tmplClearPreferences: `
		DELETE FROM account_preferences
		WHERE account={{.ID | .Arg}}`,
	tmplInsertPreferences: `
		INSERT INTO account_preferences (account, key, value)
		VALUES {{range $i, $k := .Keys}}{{if gt $i 0}}, {{end}}({{$.ID | $.Arg}}, {{$k | $.Arg}}, {{index $.Values $k | $.Arg}}){{end}}`,
}

// newPostgresDriver creates a postgres driver using the given DB.
func newPostgresDriver(db *sql.DB) (*driver, error) {
	_, err := db.Exec(postgresInit)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	d := &driver{
		name: "postgres",
		argBuilderFunc: func() argBuilder {
			return &postgresArgBuilder{}
		},
		isDuplicateFunc: postgresIsDuplicate,
	}
	for i, t := range postgresTmpls {
		if err := d.parseTemplate(tmplID(i), t); err != nil {
			return nil, errgo.Notef(err, "cannot parse template %v", t)
		}
	}
	return d, nil
}

func postgresIsDuplicate(err error) bool {
	if pqerr, ok := err.(*pq.Error); ok && pqerr.Code.Name() == "unique_violation" {
		return true
	}
	return false
}

// postgresArgBuilder implements an argBuilder that produces placeholders
// in the the "$n" format.
type postgresArgBuilder struct {
	args_ []interface{}
}

// Arg implements argbuilder.Arg.
func (b *postgresArgBuilder) Arg(a interface{}) string {
	b.args_ = append(b.args_, a)
	return fmt.Sprintf("$%d", len(b.args_))
}

// args implements argbuilder.args.
func (b *postgresArgBuilder) args() []interface{} {
	return b.args_
}
