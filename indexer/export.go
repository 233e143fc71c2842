package indexer

import (
	"context"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	Height     int64  `parquet:"name=height, type=INT64"`
	Position   int32  `parquet:"name=position, type=INT32"`
	Module     string `parquet:"name=module, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Subject    string `parquet:"name=subject, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes the events matching f to a Snappy-compressed parquet
// file at path and returns the number of rows written.
func (ix *Indexer) ExportParquet(ctx context.Context, path string, f Filter) (int, error) {
	events, err := ix.Events(ctx, f)
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, ev := range events {
		row := &parquetRow{
			Height:     int64(ev.Height),
			Position:   int32(ev.Position),
			Module:     ev.Module,
			Type:       ev.Type,
			Subject:    ev.Subject,
			Attributes: ev.Attributes,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("indexer: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return len(events), nil
}
