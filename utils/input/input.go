package input

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/yaml.v2"
)

// Signal 路口（traffic_signals）
// 说明：配时为0时使用全局默认配时
type Signal struct {
	ID       string          `yaml:"id" bson:"id"`
	Name     string          `yaml:"name" bson:"name"`
	Location entity.Location `yaml:",inline" bson:",inline"`
	Green    float64         `yaml:"green,omitempty" bson:"green_duration,omitempty"`
	Yellow   float64         `yaml:"yellow,omitempty" bson:"yellow_duration,omitempty"`
	Red      float64         `yaml:"red,omitempty" bson:"red_duration,omitempty"`
}

// Edge 无向道路（road_edges）
type Edge struct {
	From       string  `yaml:"from" bson:"from"`
	To         string  `yaml:"to" bson:"to"`
	Distance   float64 `yaml:"distance" bson:"distance"`          // km
	TravelTime float64 `yaml:"travel_time" bson:"travel_time"`    // 基础通行时间（秒）
	Density    float64 `yaml:"density,omitempty" bson:"density"` // 初始拥堵系数，缺省为1
}

// Network 输入路网
type Network struct {
	Signals   []Signal          `yaml:"signals"`
	Edges     []Edge            `yaml:"edges"`
	Hospitals []entity.Hospital `yaml:"hospitals"`
}

// Init 加载路网
// 功能：根据配置从文件或MongoDB加载路口、道路与医院数据并校验
// 说明：File优先；数据不合法时直接panic
func Init(c config.Config) *Network {
	var (
		n   *Network
		err error
	)
	switch {
	case c.Input.File != "":
		log.Infof("load network from file %s", c.Input.File)
		n, err = LoadFile(c.Input.File)
	case c.Input.URI != "":
		client := mongoutil.NewClient(c.Input.URI)
		defer client.Disconnect(context.Background())
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err = LoadMongo(ctx, client.Database(c.Input.DB), c.Input)
	default:
		log.Panic("input.file or input.uri must be specified")
	}
	if err != nil {
		log.Panicf("failed to load network: %v", err)
	}
	if err := n.Validate(); err != nil {
		log.Panicf("invalid network: %v", err)
	}
	log.Infof("network loaded: %d signals, %d edges, %d hospitals", len(n.Signals), len(n.Edges), len(n.Hospitals))
	return n
}

// LoadFile 从YAML文件加载路网
func LoadFile(path string) (*Network, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(file)
}

// Parse 解析YAML格式的路网
func Parse(data []byte) (*Network, error) {
	var n Network
	if err := yaml.UnmarshalStrict(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// LoadMongo 从MongoDB的三个集合加载路网
func LoadMongo(ctx context.Context, db *mongo.Database, in config.Input) (*Network, error) {
	n := &Network{}
	if err := download(ctx, db.Collection(in.Signals), &n.Signals); err != nil {
		return nil, fmt.Errorf("download %s: %w", in.Signals, err)
	}
	if err := download(ctx, db.Collection(in.Edges), &n.Edges); err != nil {
		return nil, fmt.Errorf("download %s: %w", in.Edges, err)
	}
	if err := download(ctx, db.Collection(in.Hospitals), &n.Hospitals); err != nil {
		return nil, fmt.Errorf("download %s: %w", in.Hospitals, err)
	}
	return n, nil
}

func download[T any](ctx context.Context, coll *mongo.Collection, out *[]T) error {
	log.Infof("start fetching from %s.%s", coll.Database().Name(), coll.Name())
	cur, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return err
	}
	if err := cur.All(ctx, out); err != nil {
		return err
	}
	log.Infof("finish fetching from %s.%s", coll.Database().Name(), coll.Name())
	return nil
}

// Validate 校验路网
// 功能：检查ID唯一、道路端点存在、通行时间为正、拥堵系数不小于1、医院挂接路口存在
// 说明：缺省的拥堵系数被填充为1
func (n *Network) Validate() error {
	signals := make(map[string]struct{}, len(n.Signals))
	for _, s := range n.Signals {
		if s.ID == "" {
			return fmt.Errorf("%w: signal with empty id", entity.ErrInvalidInput)
		}
		if _, ok := signals[s.ID]; ok {
			return fmt.Errorf("%w: duplicated signal id %s", entity.ErrInvalidInput, s.ID)
		}
		signals[s.ID] = struct{}{}
		if err := checkLocation(s.Location); err != nil {
			return fmt.Errorf("%w: signal %s %v", entity.ErrInvalidInput, s.ID, err)
		}
		for _, d := range []float64{s.Green, s.Yellow, s.Red} {
			if !finite(d) || d < 0 {
				return fmt.Errorf("%w: signal %s timing %v must be finite and non-negative", entity.ErrInvalidInput, s.ID, d)
			}
		}
	}
	edges := make(map[entity.EdgeKey]struct{}, len(n.Edges))
	for i := range n.Edges {
		e := &n.Edges[i]
		if e.From == e.To {
			return fmt.Errorf("%w: self loop on %s", entity.ErrInvalidInput, e.From)
		}
		for _, id := range []string{e.From, e.To} {
			if _, ok := signals[id]; !ok {
				return fmt.Errorf("%w: edge %s-%s refers to unknown signal %s", entity.ErrInvalidInput, e.From, e.To, id)
			}
		}
		key := entity.NewEdgeKey(e.From, e.To)
		if _, ok := edges[key]; ok {
			return fmt.Errorf("%w: duplicated edge %s-%s", entity.ErrInvalidInput, e.From, e.To)
		}
		edges[key] = struct{}{}
		if !finite(e.TravelTime) || e.TravelTime <= 0 {
			return fmt.Errorf("%w: edge %s-%s travel time %v must be finite and positive", entity.ErrInvalidInput, e.From, e.To, e.TravelTime)
		}
		if !finite(e.Distance) || e.Distance < 0 {
			return fmt.Errorf("%w: edge %s-%s distance %v must be finite and non-negative", entity.ErrInvalidInput, e.From, e.To, e.Distance)
		}
		if e.Density == 0 {
			e.Density = 1
		}
		if !finite(e.Density) || e.Density < 1 {
			return fmt.Errorf("%w: edge %s-%s density %v must be finite and >= 1", entity.ErrInvalidInput, e.From, e.To, e.Density)
		}
		if !finite(e.TravelTime * e.Density) {
			return fmt.Errorf("%w: edge %s-%s weight overflows", entity.ErrInvalidInput, e.From, e.To)
		}
	}
	hospitals := make(map[string]struct{}, len(n.Hospitals))
	for _, h := range n.Hospitals {
		if _, ok := hospitals[h.ID]; ok {
			return fmt.Errorf("%w: duplicated hospital id %s", entity.ErrInvalidInput, h.ID)
		}
		hospitals[h.ID] = struct{}{}
		if _, ok := signals[h.JunctionID]; !ok {
			return fmt.Errorf("%w: hospital %s attached to unknown signal %s", entity.ErrInvalidInput, h.ID, h.JunctionID)
		}
		if !finite(h.AccessTime) || h.AccessTime < 0 {
			return fmt.Errorf("%w: hospital %s access time %v must be finite and non-negative", entity.ErrInvalidInput, h.ID, h.AccessTime)
		}
		if err := checkLocation(h.Location); err != nil {
			return fmt.Errorf("%w: hospital %s %v", entity.ErrInvalidInput, h.ID, err)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkLocation(l entity.Location) error {
	if !finite(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", l.Latitude)
	}
	if !finite(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", l.Longitude)
	}
	return nil
}
