package index

import (
	"context"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
)

// createStorage opens a fresh index file in a temporary directory.
func createStorage(t *testing.T) (*Storage, string) {
	t.Helper()

	dbFile := path.Join(t.TempDir(), "test.bloom")
	s, err := OpenStorage(dbFile, StorageConfig{PoolSize: 32}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, dbFile
}

// crash drops the storage without writing buffered pages back, as if the
// process died. Only what the write-ahead log holds survives.
func crash(t *testing.T, s *Storage) {
	t.Helper()

	require.NoError(t, s.scheduler.Close())
	require.NoError(t, s.log.Close())
	require.NoError(t, s.file.Close())
}

func rowsOf(rows ...Row) HeapScan {
	return func(ctx context.Context, emit func(Row) error) error {
		for _, row := range rows {
			if err := emit(row); err != nil {
				return err
			}
		}
		return nil
	}
}

func loc(i int) RowLocator {
	return RowLocator{Block: uint32(i / 100), Offset: uint16(i % 100)}
}

func row(i int, values ...any) Row {
	return Row{Locator: loc(i), Values: values}
}

func scanAll(t *testing.T, idx *Index, keys ...ScanKey) *Candidates {
	t.Helper()

	scan, err := idx.BeginScan(keys...)
	require.NoError(t, err)
	defer scan.EndScan()

	res, err := scan.GetBitmap(context.Background())
	require.NoError(t, err)
	return res
}

func inspect(t *testing.T, idx *Index) *Report {
	t.Helper()

	report, err := idx.Inspect(context.Background())
	require.NoError(t, err)
	return report
}
