// Package fetcher retrieves the vendor spreadsheet export from HTTP,
// Google Sheets, FTP, or local files, and parses it into source rows.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/nordkart/vendorsync/internal/model"
)

// Fetcher downloads a source by URL.
type Fetcher interface {
	// Download fetches the URL and returns the body. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Source describes where the vendor export lives and how to parse it.
type Source struct {
	// URL is an http(s)://, ftp:// URL or a local file path.
	URL string
	// SpreadsheetID selects a Google Sheets document; when set it
	// overrides URL.
	SpreadsheetID string
	// GID is the sheet tab within the Google Sheets document.
	GID string
	// Format forces csv or xlsx parsing; empty means detect from the
	// URL extension (csv when undetectable).
	Format string
}

// Reader opens sources with the fetcher matching their scheme.
type Reader struct {
	http Fetcher
	ftp  Fetcher
}

// NewReader creates a Reader using the given transports.
func NewReader(http, ftp Fetcher) *Reader {
	return &Reader{http: http, ftp: ftp}
}

// Rows downloads the source and parses it into source rows.
func (r *Reader) Rows(ctx context.Context, src Source) ([]model.SourceRow, error) {
	rawURL := src.URL
	if src.SpreadsheetID != "" {
		rawURL = SheetExportURL(src.SpreadsheetID, src.GID)
	}
	if rawURL == "" {
		return nil, eris.New("fetcher: no source configured")
	}

	format := src.Format
	if format == "" {
		format = detectFormat(rawURL)
	}

	// xlsx needs random access, so it always goes through a temp file.
	if format == "xlsx" {
		path, cleanup, err := r.toFile(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return ReadXLSXRows(path)
	}

	body, err := r.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	return ReadCSVRows(ctx, body)
}

func (r *Reader) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	switch scheme(rawURL) {
	case "http", "https":
		return r.http.Download(ctx, rawURL)
	case "ftp":
		return r.ftp.Download(ctx, rawURL)
	default:
		f, err := os.Open(rawURL)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: open local file")
		}
		return f, nil
	}
}

func (r *Reader) toFile(ctx context.Context, rawURL string) (path string, cleanup func(), err error) {
	if scheme(rawURL) == "" {
		return rawURL, func() {}, nil
	}

	body, err := r.open(ctx, rawURL)
	if err != nil {
		return "", nil, err
	}
	defer body.Close() //nolint:errcheck

	tmp, err := os.CreateTemp("", "vendorsync-*.xlsx")
	if err != nil {
		return "", nil, eris.Wrap(err, "fetcher: create temp file")
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", nil, eris.Wrap(err, "fetcher: spool download")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", nil, eris.Wrap(err, "fetcher: close temp file")
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil //nolint:errcheck
}

// SheetExportURL builds the CSV export URL for a Google Sheets tab.
func SheetExportURL(spreadsheetID, gid string) string {
	u := "https://docs.google.com/spreadsheets/d/" + spreadsheetID + "/export?format=csv"
	if gid != "" {
		u += "&gid=" + url.QueryEscape(gid)
	}
	return u
}

func scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme
}

func detectFormat(rawURL string) string {
	u, err := url.Parse(rawURL)
	path := rawURL
	if err == nil && u.Path != "" {
		path = u.Path
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return "xlsx"
	}
	return "csv"
}
