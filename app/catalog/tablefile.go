package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lysyi3m/listing-comb/app/feed"
	"github.com/xuri/excelize/v2"
)

const imageSeparator = "|"

// LoadTable reads the catalog from an .xlsx or .csv file. A missing file
// yields an empty table.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewTable(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return DecodeTable(path, data)
}

// DecodeTable parses catalog content; the format follows the extension of name.
func DecodeTable(name string, data []byte) (*Table, error) {
	var (
		rows [][]string
		err  error
	)

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx":
		rows, err = readXLSX(data)
	case ".csv":
		rows, err = readCSV(data)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", filepath.Base(name), err)
	}

	return fromRows(rows)
}

// SaveTable writes the catalog, replacing the file atomically.
func SaveTable(path string, t *Table) error {
	data, err := EncodeTable(path, t)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func EncodeTable(name string, t *Table) ([]byte, error) {
	rows := toRows(t)

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx":
		return writeXLSX(rows)
	case ".csv":
		return writeCSV(rows)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}
}

// ReplaceWithBackup stores data at path, keeping the previous file as
// path.bak.
func ReplaceWithBackup(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("failed to back up catalog: %w", err)
		}
	}
	return writeFileAtomic(path, data)
}

func fromRows(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return NewTable(nil), nil
	}

	header := make([]string, len(rows[0]))
	for i, name := range rows[0] {
		header[i] = strings.TrimSpace(name)
	}

	idColumn := slices.Index(header, feed.IDField)
	if idColumn < 0 {
		return nil, fmt.Errorf("catalog header has no %s column", feed.IDField)
	}

	var columns []string
	for _, name := range header {
		if name != "" && !slices.Contains(columns, name) {
			columns = append(columns, name)
		}
	}
	t := NewTable(columns)

	for n, row := range rows[1:] {
		record := &Record{Fields: feed.NewFields()}
		for i, name := range header {
			if name == "" {
				continue
			}
			var value string
			if i < len(row) {
				value = row[i]
			}
			if name == feed.ImageURLsColumn {
				record.Images = splitImages(value)
				continue
			}
			record.Fields.Set(name, value)
		}

		record.ID = strings.TrimSpace(record.Fields.Get(feed.IDField))
		if record.ID == "" {
			if record.Fields.Len() > 0 && strings.Join(row, "") != "" {
				slog.Warn("Catalog row without identifier dropped", "row", n+2)
			}
			continue
		}
		if err := t.Append(record); err != nil {
			slog.Warn("Catalog row dropped", "row", n+2, "error", err)
		}
	}

	return t, nil
}

func toRows(t *Table) [][]string {
	rows := make([][]string, 0, len(t.Records)+1)
	rows = append(rows, slices.Clone(t.Columns))

	for _, record := range t.Records {
		row := make([]string, len(t.Columns))
		for i, column := range t.Columns {
			switch column {
			case feed.ImageURLsColumn:
				row[i] = strings.Join(record.Images, imageSeparator)
			case feed.IDField:
				row[i] = record.ID
			default:
				row[i] = record.Fields.Get(column)
			}
		}
		rows = append(rows, row)
	}

	return rows
}

// splitImages drops blank and "nan" entries, which spreadsheet tools leave
// behind for empty cells.
func splitImages(value string) []string {
	var images []string
	for _, part := range strings.Split(value, imageSeparator) {
		part = strings.TrimSpace(part)
		if part == "" || strings.EqualFold(part, "nan") {
			continue
		}
		images = append(images, part)
		if len(images) == MaxImages {
			break
		}
	}
	return images
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	return f.GetRows(sheets[0])
}

func writeXLSX(rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		values := make([]interface{}, len(row))
		for j, value := range row {
			values[j] = value
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}
