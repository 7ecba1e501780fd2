package model

import "time"

// VectorMetadata 记录一条向量的来源信息，与向量索引中的记录按 VectorID 对应。
// 同一 VectorID 可以有多位作者，每位作者一行。
type VectorMetadata struct {
	UUID      string    `gorm:"primaryKey;type:varchar(36);column:uuid" json:"uuid" bson:"uuid"`
	VectorID  string    `gorm:"type:varchar(32);not null;index;column:vector_id" json:"id" bson:"id"`
	Content   string    `gorm:"type:text;column:content" json:"content" bson:"content"`
	Namespace string    `gorm:"type:varchar(32);index;column:namespace" json:"namespace" bson:"namespace"`
	CreatedBy string    `gorm:"type:varchar(100);index;column:created_by" json:"created_by" bson:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime;index;column:created_at" json:"created_at" bson:"created_at"`
}

func (VectorMetadata) TableName() string {
	return "vector_metadata"
}

// VectorMetadataFilter 是元数据列表查询的条件。空字段表示不过滤。
type VectorMetadataFilter struct {
	CreatedBy string
	Namespace string
	VectorIDs []string
	// SortAsc 为 true 时按创建时间升序，默认最新的在前。
	SortAsc bool
	Skip    int
	Limit   int
}
