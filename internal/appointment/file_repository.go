package appointment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileRepository stores records and holds as line-oriented text files.
// Every write goes to a temp file in the same directory which is synced and
// renamed over the original, so readers only ever see complete generations.
type FileRepository struct {
	recordsPath string
	holdsPath   string
}

func NewFileRepository(recordsPath, holdsPath string) *FileRepository {
	return &FileRepository{recordsPath: recordsPath, holdsPath: holdsPath}
}

func (f *FileRepository) Load(ctx context.Context) ([]Record, error) {
	return loadFile(ctx, f.recordsPath, parseRecordFields)
}

func (f *FileRepository) Save(ctx context.Context, records []Record) error {
	return replaceFile(ctx, f.recordsPath, func(w io.Writer) error {
		return writeLines(w, records, recordFields)
	})
}

func (f *FileRepository) LoadHolds(ctx context.Context) ([]SlotKey, error) {
	return loadFile(ctx, f.holdsPath, parseHoldFields)
}

func (f *FileRepository) SaveHolds(ctx context.Context, holds []SlotKey) error {
	return replaceFile(ctx, f.holdsPath, func(w io.Writer) error {
		return writeLines(w, holds, holdFields)
	})
}

func loadFile[T any](ctx context.Context, path string, parse func([]string) (T, error)) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	items, err := readLines(bufio.NewReader(file), parse)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return items, nil
}

func replaceFile(ctx context.Context, path string, write func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err := write(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

// syncDir makes the rename durable. Some platforms cannot fsync a directory;
// the rename itself is already atomic there.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
