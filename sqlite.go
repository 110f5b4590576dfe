package rearview

import (
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"os"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const addressSchema = `
CREATE TABLE Address (
    address TEXT PRIMARY KEY,
    fqdn    TEXT
);`

// SQLitePower answers PTR rewrites from a local SQLite database holding
// a single table Address(address, fqdn). Both columns are text, the
// address in its dotted form.
type SQLitePower struct {
	db *sql.DB
}

var _ Power = &SQLitePower{}

type SQLitePowerOptions struct {
	// Path of the database file. Created and initialized with the
	// schema if it doesn't exist.
	DBFile string
}

// NewSQLitePower opens or creates the override database.
func NewSQLitePower(opt SQLitePowerOptions) (*SQLitePower, error) {
	_, err := os.Stat(opt.DBFile)
	initialize := os.IsNotExist(err)
	db, err := sql.Open("sqlite", opt.DBFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", opt.DBFile, err)
	}
	if initialize {
		if _, err := db.Exec(addressSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize sqlite database %s: %w", opt.DBFile, err)
		}
	}
	return &SQLitePower{db: db}, nil
}

// Query looks up the override for addr. Runs synchronously, the
// database is local.
func (p *SQLitePower) Query(addr netip.Addr) string {
	var fqdn string
	err := p.db.QueryRow("SELECT fqdn FROM Address WHERE address = ?", addr.String()).Scan(&fqdn)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			Log.WithError(err).WithField("address", addr).Error("sqlite query failed")
		}
		return ""
	}
	return fqdn
}

// Ready is closed immediately, the database is opened in the constructor.
func (p *SQLitePower) Ready() <-chan struct{} { return closedReady }

func (p *SQLitePower) String() string { return PowerSQLite }

func (p *SQLitePower) Close() error { return p.db.Close() }
