package store

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/modfin/utskick"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

type sqliteStore struct {
	db   *sqlx.DB
	path string
	log  *logrus.Logger
}

func newSqlite(path string, lc *tools.Logger) (*sqliteStore, error) {
	s := &sqliteStore{path: path, log: lc.New("store")}
	err := s.ensureSchema()
	return s, err
}

func (s *sqliteStore) Path() string {
	return s.path
}

func (s *sqliteStore) getDB() (*sqlx.DB, error) {
	var err error
	for s.db == nil || s.db.Ping() != nil {
		if s.db != nil {
			_ = s.db.Close()
			s.db = nil
		}
		s.db, err = sqlx.Connect("sqlite3", s.path)
		if err != nil {
			return nil, fmt.Errorf("error while connecting, %w", err)
		}
		_, err = s.db.Exec(`pragma journal_mode = WAL;
			pragma synchronous = normal;
			pragma temp_store = memory;`)
		if err != nil {
			return nil, fmt.Errorf("error while tuning db instance, %w", err)
		}
	}
	return s.db, nil
}

func (s *sqliteStore) ensureSchema() error {
	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("could not get db, %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS records (
		rowidx INTEGER PRIMARY KEY AUTOINCREMENT,

		name  TEXT DEFAULT '',
		email TEXT NOT NULL,

		email_count INT  DEFAULT 0,
		status      TEXT DEFAULT '',
		reason      TEXT DEFAULT '',
		sent_date   TEXT DEFAULT '',

		validation_status TEXT DEFAULT '',
		validation_reason TEXT DEFAULT '',

		smtp_status     TEXT DEFAULT '',
		smtp_reason     TEXT DEFAULT '',
		smtp_check_date TEXT DEFAULT '',
		mx_records      INT  DEFAULT 0,

		zerobounce_status     TEXT DEFAULT '',
		zerobounce_sub_status TEXT DEFAULT ''
	);
`)
	if err != nil {
		return fmt.Errorf("could not upsert schema, %w", err)
	}
	return nil
}

func (s *sqliteStore) Read() ([]utskick.Record, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var records []utskick.Record
	err = db.Select(&records, `
		SELECT name, email, email_count, status, reason, sent_date,
		       validation_status, validation_reason,
		       smtp_status, smtp_reason, smtp_check_date, mx_records,
		       zerobounce_status, zerobounce_sub_status
		FROM records
		ORDER BY rowidx
	`)
	if err != nil {
		return nil, mapSqliteErr(err)
	}

	s.log.Infof("read %d records from %s", len(records), s.path)
	return records, nil
}

// Write replaces the whole table transactionally, mirroring the full file
// rewrite semantics of the spreadsheet backend.
func (s *sqliteStore) Write(records []utskick.Record) (err error) {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	var tx *sqlx.Tx
	tx, err = db.Beginx()
	if err != nil {
		return mapSqliteErr(err)
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	if _, err = tx.Exec(`DELETE FROM records`); err != nil {
		return mapSqliteErr(err)
	}

	q := `
	INSERT INTO records (
		name, email, email_count, status, reason, sent_date,
		validation_status, validation_reason,
		smtp_status, smtp_reason, smtp_check_date, mx_records,
		zerobounce_status, zerobounce_sub_status
	) VALUES (
		:name, :email, :email_count, :status, :reason, :sent_date,
		:validation_status, :validation_reason,
		:smtp_status, :smtp_reason, :smtp_check_date, :mx_records,
		:zerobounce_status, :zerobounce_sub_status
	)`

	stmt, err := tx.PrepareNamed(q)
	if err != nil {
		return fmt.Errorf("failed to prepare statement, err %v", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err = stmt.Exec(r); err != nil {
			return mapSqliteErr(err)
		}
	}

	s.log.Infof("saved %d records to %s", len(records), s.path)
	return nil
}

func mapSqliteErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is locked") {
		return fmt.Errorf("%v: %w", err, ErrLocked)
	}
	return err
}
