package transform

import (
	"regexp"
	"strings"
)

// quantityToken matches embedded numeric quantity/unit tokens ("320g",
// "1.5L", "450"). A trailing % marks a percentage, which is part of the
// product name and must survive cleaning.
var quantityToken = regexp.MustCompile(`\d+(\.\d+)?\w*%?`)

var spaceRun = regexp.MustCompile(`\s{2,}`)

// CleanProductNames splits a semicolon-delimited product field into
// cleaned product names: quantity tokens stripped, percentages kept,
// whitespace and trailing punctuation trimmed, empty results dropped.
func CleanProductNames(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ";")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		name := quantityToken.ReplaceAllStringFunc(part, func(m string) string {
			if strings.HasSuffix(m, "%") {
				return m
			}
			return ""
		})
		name = spaceRun.ReplaceAllString(name, " ")
		name = strings.TrimSpace(name)
		name = strings.TrimRight(name, ".,")
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// PadPostalCode zero-pads a postal code to four digits. Spreadsheet
// exports drop leading zeros ("510" for "0510").
func PadPostalCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	for len(code) < 4 {
		code = "0" + code
	}
	return code
}
