package repository

import (
	"context"
	"encoding/json"
	"learn-go/internal/model"
	"sort"

	"go.etcd.io/bbolt"
)

var bucketVectorMetadata = []byte("vector_metadata")

type boltVectorMetadataRepository struct {
	db *bbolt.DB
}

// NewBoltVectorMetadataRepository 创建基于本地 bbolt 文件的元数据仓库，行以 uuid 为键、JSON 为值。
func NewBoltVectorMetadataRepository(db *bbolt.DB) (VectorMetadataRepository, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectorMetadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &boltVectorMetadataRepository{db: db}, nil
}

func (r *boltVectorMetadataRepository) InsertMany(ctx context.Context, rows []*model.VectorMetadata) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectorMetadata)
		for _, row := range rows {
			data, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(row.UUID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *boltVectorMetadataRepository) Find(ctx context.Context, filter model.VectorMetadataFilter) ([]*model.VectorMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(filter.VectorIDs))
	for _, id := range filter.VectorIDs {
		ids[id] = struct{}{}
	}

	var rows []*model.VectorMetadata
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectorMetadata).ForEach(func(_, v []byte) error {
			var row model.VectorMetadata
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if filter.CreatedBy != "" && row.CreatedBy != filter.CreatedBy {
				return nil
			}
			if filter.Namespace != "" && row.Namespace != filter.Namespace {
				return nil
			}
			if len(ids) > 0 {
				if _, ok := ids[row.VectorID]; !ok {
					return nil
				}
			}
			rows = append(rows, &row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// 键为 uuid，遍历顺序与时间无关，需要显式排序
	sort.SliceStable(rows, func(i, j int) bool {
		if filter.SortAsc {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	if filter.Skip > 0 {
		if filter.Skip >= len(rows) {
			return []*model.VectorMetadata{}, nil
		}
		rows = rows[filter.Skip:]
	}
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

func (r *boltVectorMetadataRepository) DeleteByIDs(ctx context.Context, namespace string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	targets := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		targets[id] = struct{}{}
	}

	var deleted int64
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectorMetadata)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var row model.VectorMetadata
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			_, byID := targets[row.VectorID]
			_, byUUID := targets[row.UUID]
			if (byID || byUUID) && (namespace == "" || row.Namespace == namespace) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		// ForEach 期间不能修改 bucket
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
