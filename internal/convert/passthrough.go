package convert

import (
	"fmt"
	"io"
	"os"
)

// passThroughParquet copies an already-Parquet source file unchanged into
// the scratch directory as the single "primary" table, only reading enough
// of the file to report its row count for the conversion metadata.
func (c *Converter) passThroughParquet(sourcePath, scratchDir string, progress *progressDoc) ([]TableOutput, []TableMetadata, error) {
	out := outputPath(scratchDir, primaryTableKey)

	if !progress.Completed[primaryTableKey] {
		if err := copyFile(sourcePath, out); err != nil {
			return nil, nil, fmt.Errorf("copy parquet file: %w", err)
		}
		progress.Completed[primaryTableKey] = true
	}

	rowCount, err := parquetRowCount(out)
	if err != nil {
		return nil, []TableMetadata{{TableKey: primaryTableKey, Error: err.Error()}}, nil
	}

	return []TableOutput{{TableKey: primaryTableKey, ParquetPath: out}},
		[]TableMetadata{{TableKey: primaryTableKey, RowCount: rowCount}}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
