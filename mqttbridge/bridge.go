// Package mqttbridge runs person detection for camera gadgets that publish
// frames over MQTT.
package mqttbridge

import (
	"PersonDetServer/config"
	"PersonDetServer/logger"
	"PersonDetServer/monitor"
	"PersonDetServer/preprocess"
	"PersonDetServer/worker"
	"context"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DetectTimeout bounds one frame's wait for a worker.
var DetectTimeout = 5 * time.Second

// FramePayload is the JSON form of a frame. Encoded says whether Image holds
// a JPEG/PNG or a raw tensor. Payloads that are not a JSON frame object are
// taken as the frame itself and sniffed.
type FramePayload struct {
	Image   string `json:"image"`
	Encoded bool   `json:"encoded"`
	Size    int    `json:"size"`
}

type PersonEvent struct {
	Node      string  `json:"node"`
	Person    bool    `json:"person"`
	Score     float32 `json:"score"`
	Timestamp int64   `json:"timestamp"`
}

type Bridge struct {
	cfg      config.MQTTConfig
	registry *worker.Registry
	pool     *worker.Pool
	client   mqtt.Client
	// publish is swapped out in tests.
	publish func(topic string, payload []byte) error
}

func New(cfg config.MQTTConfig, registry *worker.Registry, pool *worker.Pool) *Bridge {
	if cfg.ClientID == "" {
		cfg.ClientID = "persondet-" + uuid.New().String()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "gadget"
	}
	b := &Bridge{cfg: cfg, registry: registry, pool: pool}
	b.publish = b.clientPublish
	return b
}

func (b *Bridge) FrameTopic() string {
	return b.cfg.TopicPrefix + "/+/frame"
}

func (b *Bridge) PersonTopic(node string) string {
	return b.cfg.TopicPrefix + "/" + node + "/person"
}

// nodeOf extracts the gadget name from <prefix>/<node>/frame.
func (b *Bridge) nodeOf(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.cfg.TopicPrefix+"/")
	if !ok {
		return "", false
	}
	node, ok := strings.CutSuffix(rest, "/frame")
	if !ok || node == "" || strings.Contains(node, "/") {
		return "", false
	}
	return node, true
}

// Start connects and subscribes; the subscription is renewed on reconnect.
func (b *Bridge) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetUsername(b.cfg.Username).
		SetPassword(b.cfg.Password).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		logger.Log().Info("MQTT connected", zap.String("broker", b.cfg.Broker), zap.String("topic", b.FrameTopic()))
		token := c.Subscribe(b.FrameTopic(), b.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
			b.HandleMessage(m)
		})
		if token.Wait() && token.Error() != nil {
			logger.Log().Error("MQTT subscribe failed", zap.Error(token.Error()))
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Log().Warn("MQTT connection lost", zap.Error(err))
	}
	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "connect to %s", b.cfg.Broker)
	}
	return nil
}

func (b *Bridge) Stop() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Unsubscribe(b.FrameTopic()).WaitTimeout(time.Second)
		b.client.Disconnect(250)
	}
}

func (b *Bridge) clientPublish(topic string, payload []byte) error {
	if b.client == nil {
		return errors.New("mqtt client not started")
	}
	token := b.client.Publish(topic, b.cfg.QoS, false, payload)
	token.Wait()
	return token.Error()
}

// HandleMessage runs one frame through the default engine and publishes the
// verdict. Bad frames are logged and dropped.
func (b *Bridge) HandleMessage(m mqtt.Message) {
	monitor.Request(monitor.TransportMQTT)
	node, ok := b.nodeOf(m.Topic())
	if !ok {
		logger.Log().Warn("MQTT frame on unexpected topic", zap.String("topic", m.Topic()))
		return
	}
	frame, size, kind, err := decodePayload(m.Payload())
	if err != nil {
		logger.Log().Warn("MQTT frame rejected", zap.String("node", node), zap.Error(err))
		return
	}
	e, ok := b.registry.Default()
	if !ok {
		logger.Log().Warn("MQTT frame dropped, no default engine", zap.String("node", node))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DetectTimeout)
	defer cancel()
	det, err := b.pool.DetectFrame(ctx, e.Backend, frame, size, kind)
	if err != nil {
		logger.Log().Error("MQTT detection failed", zap.String("node", node), zap.Error(err))
		return
	}
	payload, err := json.Marshal(PersonEvent{
		Node:      node,
		Person:    det.Person,
		Score:     det.Score,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		logger.Log().Error("MQTT event encode failed", zap.Error(err))
		return
	}
	if err := b.publish(b.PersonTopic(node), payload); err != nil {
		logger.Log().Error("MQTT publish failed", zap.String("node", node), zap.Error(err))
	}
}

func decodePayload(payload []byte) ([]byte, int, worker.FrameKind, error) {
	if len(payload) == 0 {
		return nil, 0, worker.FrameAuto, errors.New("empty payload")
	}
	if payload[0] != '{' || !json.Valid(payload) {
		return payload, 0, worker.FrameAuto, nil
	}
	var fp FramePayload
	if err := json.Unmarshal(payload, &fp); err != nil || fp.Image == "" {
		return payload, 0, worker.FrameAuto, nil
	}
	frame, err := preprocess.DecodeBase64(fp.Image)
	if err != nil {
		return nil, 0, worker.FrameAuto, errors.Wrap(err, "decode frame image")
	}
	if !fp.Encoded {
		return frame, fp.Size, worker.FrameRaw, nil
	}
	if !preprocess.IsEncoded(frame) {
		return nil, 0, worker.FrameAuto, errors.New("frame marked encoded is not JPEG or PNG")
	}
	return frame, fp.Size, worker.FrameEncoded, nil
}
