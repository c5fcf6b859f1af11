package action

import (
	"fmt"
	"strings"
	"time"

	"storeops/internal/models"
)

// Exportable CSV fields, in default column order.
var ExportFields = []string{"id", "status", "total", "currency", "customer_email", "country", "tags", "created_at"}

// ValidExportField reports whether f is an exportable column.
func ValidExportField(f string) bool {
	for _, known := range ExportFields {
		if f == known {
			return true
		}
	}
	return false
}

func fieldValue(o models.Order, field string) string {
	switch field {
	case "id":
		return fmt.Sprintf("%d", o.ID)
	case "status":
		return o.Status
	case "total":
		return fmt.Sprintf("%d.%02d", o.TotalCents/100, o.TotalCents%100)
	case "currency":
		return o.Currency
	case "customer_email":
		return o.CustomerEmail
	case "country":
		return o.Country
	case "tags":
		return strings.Join(o.Tags, "|")
	case "created_at":
		return o.CreatedAt.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// escapeCell neutralizes spreadsheet formula injection and applies CSV
// quoting. A leading =, +, - or @ gets an apostrophe prefix so spreadsheet
// apps treat the cell as text; cells containing delimiters, quotes or
// newlines are quoted with doubled inner quotes.
func escapeCell(v string) string {
	if v != "" {
		switch v[0] {
		case '=', '+', '-', '@':
			v = "'" + v
		}
	}
	if strings.ContainsAny(v, ",\"\r\n") {
		v = `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	}
	return v
}

// writeCSV renders a UTF-8 CSV document with CRLF line endings: one header
// row followed by one row per order, restricted to the selected fields.
func writeCSV(fields []string, rows []models.Order) []byte {
	var b strings.Builder

	cells := make([]string, len(fields))
	for i, f := range fields {
		cells[i] = escapeCell(f)
	}
	b.WriteString(strings.Join(cells, ","))
	b.WriteString("\r\n")

	for _, o := range rows {
		for i, f := range fields {
			cells[i] = escapeCell(fieldValue(o, f))
		}
		b.WriteString(strings.Join(cells, ","))
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}
