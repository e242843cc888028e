// MQTT消息接入：检测事件、路况拥堵系数与车辆进度
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/entity/corridor"
	"github.com/tsinghua-fib-lab/green-corridor/utils/config"
)

// 单条消息的处理时限
const handleTimeout = 10 * time.Second

// ICorridor 接入消息的目标（corridor.CorridorManager）
type ICorridor interface {
	SubmitDetection(ctx context.Context, req corridor.DetectionRequest) (*corridor.DetectionResult, error)
	ReportProgress(ctx context.Context, req corridor.ProgressRequest) (corridor.RouteView, error)
}

// DetectionMessage 检测主题的消息体
type DetectionMessage struct {
	RequestID string `json:"request_id,omitempty"`
	entity.DetectionEvent
}

// DensityMessage 路况主题的消息体
type DensityMessage struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Density float64 `json:"density"`
}

// Subscriber MQTT订阅者
type Subscriber struct {
	ctx      entity.ITaskContext
	corridor ICorridor
	cfg      config.MQTT
	client   mqtt.Client
}

// NewSubscriber 创建订阅者，Start之前不连接
func NewSubscriber(ctx entity.ITaskContext, c ICorridor, cfg config.MQTT) *Subscriber {
	return &Subscriber{ctx: ctx, corridor: c, cfg: cfg}
}

// Start 连接broker并订阅所有主题
func (s *Subscriber) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("mqtt connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// 重连后重新订阅
		for _, topic := range []string{s.cfg.DetectionTopic, s.cfg.DensityTopic, s.cfg.ProgressTopic} {
			if token := c.Subscribe(topic, s.cfg.QoS, s.onMessage); token.Wait() && token.Error() != nil {
				log.Errorf("mqtt subscribe %s failed: %v", topic, token.Error())
				continue
			}
			log.Infof("subscribed to mqtt topic %s", topic)
		}
	})
	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker %s: %w", s.cfg.Broker, token.Error())
	}
	return nil
}

// Close 断开连接
func (s *Subscriber) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.handle(msg.Topic(), msg.Payload()); err != nil {
		log.Warnf("mqtt message on %s: %v", msg.Topic(), err)
	}
}

// handle 按主题分发消息
func (s *Subscriber) handle(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	switch topic {
	case s.cfg.DetectionTopic:
		var m DetectionMessage
		if err := s.decode(topic, payload, &m); err != nil {
			return err
		}
		res, err := s.corridor.SubmitDetection(ctx, corridor.DetectionRequest{RequestID: m.RequestID, Event: m.DetectionEvent})
		if res != nil && res.Accepted {
			log.Infof("detection at %s accepted as route %s", m.SignalID, res.RouteID)
		}
		return err
	case s.cfg.DensityTopic:
		var m DensityMessage
		if err := s.decode(topic, payload, &m); err != nil {
			return err
		}
		return s.ctx.RoadManager().SetDensity(m.From, m.To, m.Density)
	case s.cfg.ProgressTopic:
		var m corridor.ProgressRequest
		if err := s.decode(topic, payload, &m); err != nil {
			return err
		}
		_, err := s.corridor.ReportProgress(ctx, m)
		return err
	default:
		return fmt.Errorf("%w: unexpected topic %s", entity.ErrInvalidInput, topic)
	}
}

// decode 解析消息体，失败时记录系统事件
func (s *Subscriber) decode(topic string, payload []byte, v any) error {
	err := json.Unmarshal(payload, v)
	if err == nil {
		return nil
	}
	if rec := s.ctx.Recorder(); rec != nil {
		rec.RecordSystemEvent(entity.SystemEvent{
			ID:        uuid.NewString(),
			Type:      entity.EventIntakeDecodeFailed,
			Source:    topic,
			Severity:  entity.SeverityWarning,
			Message:   err.Error(),
			Data:      map[string]any{"payload": string(payload)},
			Timestamp: s.ctx.Clock().Now(),
		})
	}
	return fmt.Errorf("%w: decode %s message: %v", entity.ErrInvalidInput, topic, err)
}
