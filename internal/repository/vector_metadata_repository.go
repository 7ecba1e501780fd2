package repository

import (
	"context"
	"learn-go/internal/model"
)

// VectorMetadataRepository 定义了向量元数据的存取接口，有 MySQL、MongoDB、bbolt 三种实现。
type VectorMetadataRepository interface {
	InsertMany(ctx context.Context, rows []*model.VectorMetadata) error
	// Find 按过滤条件查询，Limit <= 0 表示不限制条数。
	Find(ctx context.Context, filter model.VectorMetadataFilter) ([]*model.VectorMetadata, error)
	// DeleteByIDs 删除 namespace 内 vector_id 或 uuid 命中 ids 的行，返回删除的行数。namespace 为空时不限分区。
	DeleteByIDs(ctx context.Context, namespace string, ids []string) (int64, error)
}
