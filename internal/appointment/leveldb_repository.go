package appointment

import (
	"context"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBRepository stores every record and hold as one encoded store line
// under an ordered key:
//
//	rec_<seq>  -> record line
//	hold_<seq> -> hold line
//
// Save replaces the whole prefix in a single synced batch.
type LevelDBRepository struct {
	db *leveldb.DB
}

const (
	recordPrefix = "rec_"
	holdPrefix   = "hold_"
)

func OpenLevelDBRepository(path string) (*LevelDBRepository, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBRepository{db: db}, nil
}

func (r *LevelDBRepository) Close() error {
	return r.db.Close()
}

func (r *LevelDBRepository) Load(ctx context.Context) ([]Record, error) {
	return loadPrefix(ctx, r.db, recordPrefix, parseRecordFields)
}

func (r *LevelDBRepository) Save(ctx context.Context, records []Record) error {
	return replacePrefix(ctx, r.db, recordPrefix, records, recordFields)
}

func (r *LevelDBRepository) LoadHolds(ctx context.Context) ([]SlotKey, error) {
	return loadPrefix(ctx, r.db, holdPrefix, parseHoldFields)
}

func (r *LevelDBRepository) SaveHolds(ctx context.Context, holds []SlotKey) error {
	return replacePrefix(ctx, r.db, holdPrefix, holds, holdFields)
}

func seqKey(prefix string, i int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefix, i))
}

func loadPrefix[T any](ctx context.Context, db *leveldb.DB, prefix string, parse func([]string) (T, error)) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	iter := snap.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var out []T
	for iter.Next() {
		fields, err := decodeLine(string(iter.Value()))
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", iter.Key(), err)
		}
		v, err := parse(fields)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", iter.Key(), err)
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

func replacePrefix[T any](ctx context.Context, db *leveldb.DB, prefix string, items []T, format func(T) []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)

	iter := db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for i, item := range items {
		batch.Put(seqKey(prefix, i), []byte(encodeLine(format(item))))
	}
	return db.Write(batch, &opt.WriteOptions{Sync: true})
}
