package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/Mordig101/apqp-history/internal/domain"

	"github.com/xuri/excelize/v2"
)

// exportHeader is the fixed column contract shared by every export format.
var exportHeader = []string{
	"Title",
	"Event",
	"Event Type",
	"Table",
	"User",
	"Date & Time",
	"Context Path",
}

// recordRow projects a flattened record onto the export columns. Missing
// attribution falls back to the event user, then to "System".
func recordRow(record domain.HistoryRecord) []string {
	eventText, _ := record.EventDetails()

	eventType := "unknown"
	if len(record.Events) > 0 && record.Events[0].Type != "" {
		eventType = record.Events[0].Type
	}

	table := "unknown"
	if record.TableName != "" {
		table = string(record.TableName)
	}

	user := "System"
	switch {
	case record.CreatedBy != "":
		user = record.CreatedBy
	case len(record.Events) > 0 && record.Events[0].User != "":
		user = record.Events[0].User
	}

	return []string{
		record.Title,
		eventText,
		eventType,
		table,
		user,
		domain.FormatCreatedAt(record.CreatedAt),
		record.ContextPath(),
	}
}

// writeCSV streams records as RFC 4180 CSV: fields containing commas or
// quotes are quoted, internal quotes doubled. encoding/csv implements
// exactly that escaping.
func writeCSV(w io.Writer, records []domain.HistoryRecord) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(exportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, record := range records {
		if err := csvWriter.Write(recordRow(record)); err != nil {
			return fmt.Errorf("write record row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	return nil
}

// writeXLSX renders the same column contract as a single-sheet workbook.
func writeXLSX(w io.Writer, records []domain.HistoryRecord) error {
	file := excelize.NewFile()
	defer file.Close()

	const sheet = "History"
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(exportHeader))
	for i, column := range exportHeader {
		header[i] = column
	}
	if err := file.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for index, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, index+2)
		if err != nil {
			return fmt.Errorf("resolve cell for row %d: %w", index+2, err)
		}
		values := recordRow(record)
		row := make([]any, len(values))
		for i, value := range values {
			row[i] = value
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write record row %d: %w", index+2, err)
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
