package storage

import (
	"context"

	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 集合名，与关系表同名
const (
	SignalStateCollection = "signal_state_history"
	DetectionCollection   = "emergency_detections"
	RouteCollection       = "emergency_routes"
	SystemEventCollection = "system_events"
)

// Mongo MongoDB存储后端
type Mongo struct {
	states     *mongo.Collection
	detections *mongo.Collection
	routes     *mongo.Collection
	events     *mongo.Collection
}

// NewMongo 创建MongoDB存储
// 参数：db-目标数据库
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		states:     db.Collection(SignalStateCollection),
		detections: db.Collection(DetectionCollection),
		routes:     db.Collection(RouteCollection),
		events:     db.Collection(SystemEventCollection),
	}
}

// EnsureIndexes 创建查询所需的索引
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	if _, err := m.states.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "signal_id", Value: 1}, {Key: "start_time", Value: 1}},
	}); err != nil {
		return err
	}
	if _, err := m.routes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "route_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := m.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "event_type", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	return err
}

func (m *Mongo) InsertSignalState(ctx context.Context, r entity.SignalStateRecord) error {
	_, err := m.states.InsertOne(ctx, r)
	return err
}

func (m *Mongo) InsertDetection(ctx context.Context, r entity.DetectionRecord) error {
	_, err := m.detections.InsertOne(ctx, r)
	return err
}

// UpsertRoute 按route_id覆盖写入
func (m *Mongo) UpsertRoute(ctx context.Context, r entity.RouteRecord) error {
	_, err := m.routes.ReplaceOne(ctx, bson.M{"route_id": r.RouteID}, r, options.Replace().SetUpsert(true))
	return err
}

func (m *Mongo) InsertSystemEvent(ctx context.Context, e entity.SystemEvent) error {
	_, err := m.events.InsertOne(ctx, e)
	return err
}
