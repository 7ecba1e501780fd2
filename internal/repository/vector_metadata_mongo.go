package repository

import (
	"context"
	"learn-go/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoVectorMetadataRepository struct {
	coll *mongo.Collection
}

// NewMongoVectorMetadataRepository 创建基于 MongoDB 集合的元数据仓库。
func NewMongoVectorMetadataRepository(coll *mongo.Collection) VectorMetadataRepository {
	return &mongoVectorMetadataRepository{coll: coll}
}

func (r *mongoVectorMetadataRepository) InsertMany(ctx context.Context, rows []*model.VectorMetadata) error {
	if len(rows) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, row)
	}
	_, err := r.coll.InsertMany(ctx, docs)
	return err
}

func (r *mongoVectorMetadataRepository) Find(ctx context.Context, filter model.VectorMetadataFilter) ([]*model.VectorMetadata, error) {
	query := bson.M{}
	if filter.CreatedBy != "" {
		query["created_by"] = filter.CreatedBy
	}
	if filter.Namespace != "" {
		query["namespace"] = filter.Namespace
	}
	if len(filter.VectorIDs) > 0 {
		query["id"] = bson.M{"$in": filter.VectorIDs}
	}

	order := -1
	if filter.SortAsc {
		order = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: order}, {Key: "_id", Value: order}})
	if filter.Skip > 0 {
		opts.SetSkip(int64(filter.Skip))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []*model.VectorMetadata
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *mongoVectorMetadataRepository) DeleteByIDs(ctx context.Context, namespace string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := bson.M{"$or": bson.A{
		bson.M{"id": bson.M{"$in": ids}},
		bson.M{"uuid": bson.M{"$in": ids}},
	}}
	if namespace != "" {
		query["namespace"] = namespace
	}
	res, err := r.coll.DeleteMany(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
