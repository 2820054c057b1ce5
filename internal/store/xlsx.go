package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/modfin/utskick"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// Column order of the campaign sheet. Fixed schema, anything else in the
// file is not preserved.
var columns = []string{
	"name", "email", "email_count", "status", "reason", "sent_date",
	"validation_status", "validation_reason",
	"smtp_status", "smtp_reason", "smtp_check_date", "mx_records",
	"zerobounce_status", "zerobounce_sub_status",
}

type xlsxStore struct {
	path string
	log  *logrus.Logger
}

func newXLSX(path string, lc *tools.Logger) *xlsxStore {
	return &xlsxStore{path: path, log: lc.New("store")}
}

func (s *xlsxStore) Path() string {
	return s.path
}

func (s *xlsxStore) Read() ([]utskick.Record, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", s.path, ErrNotFound)
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("could not open workbook %s: %w", s.path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", s.path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("could not read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := map[string]int{}
	for i, h := range rows[0] {
		col[h] = i
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
	num := func(row []string, name string) int {
		n, _ := strconv.Atoi(cell(row, name))
		return n
	}

	var records []utskick.Record
	for _, row := range rows[1:] {
		records = append(records, utskick.Record{
			Name:             cell(row, "name"),
			Email:            cell(row, "email"),
			SendCount:        num(row, "email_count"),
			Status:           utskick.Status(cell(row, "status")),
			Reason:           cell(row, "reason"),
			SentDate:         cell(row, "sent_date"),
			ValidationStatus: cell(row, "validation_status"),
			ValidationReason: cell(row, "validation_reason"),
			SMTPStatus:       cell(row, "smtp_status"),
			SMTPReason:       cell(row, "smtp_reason"),
			SMTPCheckedDate:  cell(row, "smtp_check_date"),
			MXRecords:        num(row, "mx_records"),
			ZBStatus:         cell(row, "zerobounce_status"),
			ZBSubStatus:      cell(row, "zerobounce_sub_status"),
		})
	}

	s.log.Infof("read %d records from %s", len(records), filepath.Base(s.path))
	return records, nil
}

func (s *xlsxStore) Write(records []utskick.Record) error {
	if err := s.checkLocked(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetList()[0]

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("could not write header row: %w", err)
	}

	for i, r := range records {
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.Name, r.Email, r.SendCount, string(r.Status), r.Reason, r.SentDate,
			r.ValidationStatus, r.ValidationReason,
			r.SMTPStatus, r.SMTPReason, r.SMTPCheckedDate, r.MXRecords,
			r.ZBStatus, r.ZBSubStatus,
		}
		if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
			return fmt.Errorf("could not write row %d: %w", i+2, err)
		}
	}

	// write to a sibling temp file and rename so a crash mid save never
	// leaves a half written workbook
	// the temp name must keep a workbook extension or excelize refuses to save
	tmp := filepath.Join(filepath.Dir(s.path), fmt.Sprintf(".%s.tmp%s", filepath.Base(s.path), filepath.Ext(s.path)))
	if err := f.SaveAs(tmp); err != nil {
		return fmt.Errorf("could not save workbook: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("could not replace workbook: %w", err)
	}

	s.log.Infof("saved %d records to %s", len(records), filepath.Base(s.path))
	return nil
}

// checkLocked detects the workbook being open in a spreadsheet application.
// Excel drops an owner file named ~$<name> next to an open workbook, and on
// some platforms holds the file itself exclusively.
func (s *xlsxStore) checkLocked() error {
	owner := filepath.Join(filepath.Dir(s.path), "~$"+filepath.Base(s.path))
	if _, err := os.Stat(owner); err == nil {
		return fmt.Errorf("%s is open in another program, close it and try again: %w", s.path, ErrLocked)
	}

	fd, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if os.IsPermission(err) {
			return fmt.Errorf("%s is not writable: %w", s.path, ErrLocked)
		}
		return nil
	}
	_ = fd.Close()
	return nil
}
