package repository

import (
	"context"
	"learn-go/internal/model"

	"gorm.io/gorm"
)

type vectorMetadataRepository struct {
	db *gorm.DB
}

// NewVectorMetadataRepository 创建基于 GORM (MySQL) 的元数据仓库。
func NewVectorMetadataRepository(db *gorm.DB) VectorMetadataRepository {
	return &vectorMetadataRepository{db: db}
}

// InsertMany 批量插入元数据行。
func (r *vectorMetadataRepository) InsertMany(ctx context.Context, rows []*model.VectorMetadata) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 100).Error // 每100条记录一批
}

func (r *vectorMetadataRepository) Find(ctx context.Context, filter model.VectorMetadataFilter) ([]*model.VectorMetadata, error) {
	query := r.db.WithContext(ctx).Model(&model.VectorMetadata{})
	if filter.CreatedBy != "" {
		query = query.Where("created_by = ?", filter.CreatedBy)
	}
	if filter.Namespace != "" {
		query = query.Where("namespace = ?", filter.Namespace)
	}
	if len(filter.VectorIDs) > 0 {
		query = query.Where("vector_id IN ?", filter.VectorIDs)
	}
	if filter.SortAsc {
		query = query.Order("created_at ASC")
	} else {
		query = query.Order("created_at DESC")
	}
	if filter.Skip > 0 {
		query = query.Offset(filter.Skip)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []*model.VectorMetadata
	err := query.Find(&rows).Error
	return rows, err
}

func (r *vectorMetadataRepository) DeleteByIDs(ctx context.Context, namespace string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := r.db.WithContext(ctx).Where("(vector_id IN ? OR uuid IN ?)", ids, ids)
	if namespace != "" {
		query = query.Where("namespace = ?", namespace)
	}
	res := query.Delete(&model.VectorMetadata{})
	return res.RowsAffected, res.Error
}
