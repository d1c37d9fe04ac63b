// Package export writes query results to object storage as parquet.
package export

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/stockpilot/stockpilot/internal/format"
	"github.com/stockpilot/stockpilot/internal/query"
)

// cell is one value of a result. Results have arbitrary columns, so each
// value becomes its own parquet row keyed by row index and column name.
type cell struct {
	Row    int64  `parquet:"row"`
	Column string `parquet:"column"`
	Value  string `parquet:"value"`
	IsNull bool   `parquet:"is_null"`
}

type Encoded struct {
	Data  []byte
	Rows  int
	Cells int
}

// Metadata is stored as parquet key/value metadata on the file.
type Metadata struct {
	RequestID string
	Question  string
	SQL       string
}

func EncodeResult(result query.Result, meta Metadata) (Encoded, error) {
	if len(result.Columns) == 0 {
		return Encoded{}, fmt.Errorf("result has no columns")
	}

	cells := make([]cell, 0, len(result.Rows)*len(result.Columns))
	for rowIndex, row := range result.Rows {
		for colIndex, column := range result.Columns {
			var value any
			if colIndex < len(row) {
				value = row[colIndex]
			}
			entry := cell{Row: int64(rowIndex), Column: column}
			if value == nil {
				entry.IsNull = true
			} else {
				entry.Value = format.Cell(value)
			}
			cells = append(cells, entry)
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[cell](buf,
		parquet.KeyValueMetadata("stockpilot.request_id", meta.RequestID),
		parquet.KeyValueMetadata("stockpilot.question", meta.Question),
		parquet.KeyValueMetadata("stockpilot.sql", meta.SQL),
	)
	if _, err := writer.Write(cells); err != nil {
		return Encoded{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Encoded{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return Encoded{Data: buf.Bytes(), Rows: len(result.Rows), Cells: len(cells)}, nil
}
