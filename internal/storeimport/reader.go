package storeimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// ReadFile loads raw store records from path, choosing the parser by extension:
// .json, .jsonl/.ndjson, .csv, .xlsx, .yaml/.yml.
func ReadFile(path string) ([]Record, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return ReadXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "storeimport: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	switch ext {
	case ".json":
		return ReadJSON(f)
	case ".jsonl", ".ndjson":
		return ReadJSONLines(f)
	case ".csv":
		return ReadCSV(f)
	case ".yaml", ".yml":
		return ReadYAML(f)
	default:
		return nil, eris.Errorf("storeimport: unsupported input format %q", ext)
	}
}

// ReadJSON decodes either a top-level array of objects or an object whose
// "stores" key holds that array. Numbers are kept as json.Number.
func ReadJSON(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "storeimport: read json")
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if data[0] == '{' {
		var wrapped struct {
			Stores []Record `json:"stores"`
		}
		if err := dec.Decode(&wrapped); err != nil {
			return nil, eris.Wrap(err, "storeimport: decode json object")
		}
		return wrapped.Stores, nil
	}

	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, eris.Wrap(err, "storeimport: decode json array")
	}
	return records, nil
}

// ReadJSONLines decodes one JSON object per non-blank line.
func ReadJSONLines(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrapf(err, "storeimport: decode jsonl line %d", line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "storeimport: scan jsonl")
	}
	return records, nil
}

// ReadCSV reads a CSV file with a header row. Empty cells are left out of
// the record so they read as absent.
func ReadCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "storeimport: read csv")
	}
	return rowsToRecords(rows), nil
}

// ReadXLSX reads the first sheet of a workbook; the first row is the header.
func ReadXLSX(path string) ([]Record, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "storeimport: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("storeimport: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rowsToRecords(rows), nil
}

// ReadYAML decodes a YAML sequence of mappings. Plain zip scalars keep their
// source text, so 02134 is not resolved as the octal integer 1116.
func ReadYAML(r io.Reader) ([]Record, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "storeimport: decode yaml")
	}

	var records []Record
	if err := doc.Decode(&records); err != nil {
		return nil, eris.Wrap(err, "storeimport: decode yaml")
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.SequenceNode {
		return records, nil
	}

	for i, item := range doc.Content[0].Content {
		if i >= len(records) || item.Kind != yaml.MappingNode {
			continue
		}
		for k := 0; k+1 < len(item.Content); k += 2 {
			key, val := item.Content[k], item.Content[k+1]
			if key.Value == FieldZip && val.Kind == yaml.ScalarNode && val.Tag != "!!null" {
				records[i][FieldZip] = val.Value
			}
		}
	}
	return records, nil
}

// rowsToRecords maps tabular rows onto the header in rows[0].
func rowsToRecords(rows [][]string) []Record {
	if len(rows) == 0 {
		return nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if emptyRow(row) {
			continue
		}
		rec := make(Record, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if v := strings.TrimSpace(cell); v != "" {
				rec[header[i]] = v
			}
		}
		records = append(records, rec)
	}
	return records
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
