package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/nordkart/vendorsync/internal/model"
)

// Column names as they appear in the customer export header row.
const (
	colVendorNumber  = "KUNDENR"
	colVendorName    = "KUNDENAVN"
	colStreetAddress = "K_Adresse"
	colPostalCode    = "K_PostNr"
	colCity          = "K_PostSted"
	colProducts      = "PRODUKTNAVN"
)

// columnIndex maps each known column name to its position in the header
// row. Matching is case-insensitive and ignores surrounding whitespace.
type columnIndex map[string]int

func indexHeader(header []string) (columnIndex, error) {
	idx := make(columnIndex, len(header))
	for i, name := range header {
		idx[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colVendorNumber, colVendorName} {
		if _, ok := idx[strings.ToUpper(required)]; !ok {
			return nil, eris.Errorf("fetcher: source is missing required column %s", required)
		}
	}
	return idx, nil
}

func (idx columnIndex) get(row []string, column string) string {
	i, ok := idx[strings.ToUpper(column)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (idx columnIndex) toSourceRow(row []string) model.SourceRow {
	return model.SourceRow{
		VendorNumber:  idx.get(row, colVendorNumber),
		VendorName:    idx.get(row, colVendorName),
		StreetAddress: idx.get(row, colStreetAddress),
		PostalCode:    idx.get(row, colPostalCode),
		City:          idx.get(row, colCity),
		ProductNames:  idx.get(row, colProducts),
	}
}

// ReadCSVRows parses a CSV export. The first record is the header; its
// column names decide the field mapping, so column order in the export
// is free to change.
func ReadCSVRows(ctx context.Context, r io.Reader) ([]model.SourceRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // exports pad rows unevenly
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("fetcher: empty source")
	}
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read csv header")
	}
	idx, err := indexHeader(header)
	if err != nil {
		return nil, err
	}

	var rows []model.SourceRow
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: read csv row")
		}
		rows = append(rows, idx.toSourceRow(record))
	}
}

// ReadXLSXRows parses the first sheet of an xlsx export, mapping
// columns through the header row like the CSV path.
func ReadXLSXRows(path string) ([]model.SourceRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("fetcher: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.New("fetcher: empty source")
	}

	idx, err := indexHeader(cellStrings(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}

	rows := make([]model.SourceRow, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, idx.toSourceRow(cellStrings(row)))
	}
	return rows, nil
}

func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}
