package store

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/modfin/utskick"
	"github.com/modfin/utskick/tools"
)

var (
	// ErrNotFound signals the record file does not exist.
	ErrNotFound = errors.New("record store not found")
	// ErrLocked signals the record file is open elsewhere. The batch must
	// fail fast rather than risk a corrupt rewrite.
	ErrLocked = errors.New("record store is locked")
)

// Store is the persistent table of recipient records. Read returns all
// records in stored order, Write atomically replaces the whole table.
type Store interface {
	Read() ([]utskick.Record, error)
	Write(records []utskick.Record) error
	Path() string
}

// Open picks a backend from the file extension. Campaign data lives in
// spreadsheets, anything else is treated as a sqlite database.
func Open(path string, lc *tools.Logger) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return newXLSX(path, lc), nil
	default:
		return newSqlite(path, lc)
	}
}

// InitializeSendCount zeroes out missing or negative send counts. Running it
// over data that already carries counts changes nothing.
func InitializeSendCount(records []utskick.Record) {
	for i := range records {
		if records[i].SendCount < 0 {
			records[i].SendCount = 0
		}
	}
}
