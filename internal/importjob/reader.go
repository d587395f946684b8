package importjob

import (
	"encoding/json"
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
)

// parquetSource bundles an open reader with its underlying file handle so
// callers can close both together.
type parquetSource struct {
	file source.ParquetFile
	pr   *reader.ParquetReader
}

func openParquet(path string) (*parquetSource, error) {
	f, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	pr, err := reader.NewParquetReader(f, nil, 4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("new parquet reader: %w", err)
	}
	return &parquetSource{file: f, pr: pr}, nil
}

func (p *parquetSource) numRows() int64 {
	return p.pr.GetNumRows()
}

func (p *parquetSource) close() {
	p.pr.ReadStop()
	p.file.Close()
}

// readBatch reads count rows starting at the reader's current cursor
// position and normalizes each into a map[string]any regardless of the
// concrete type parquet-go's schema-less reader produced, via a
// marshal/unmarshal round trip.
func (p *parquetSource) readBatch(count int) ([]map[string]any, error) {
	raw, err := p.pr.ReadByNumber(count)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	rows := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("normalize row: %w", err)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("normalize row: %w", err)
		}
		rows = append(rows, m)
	}
	return rows, nil
}

// skip advances the reader's cursor by n rows without materializing them,
// used to seek a worker to its assigned row-group partition.
func (p *parquetSource) skip(n int64) error {
	if n <= 0 {
		return nil
	}
	return p.pr.SkipRows(n)
}
