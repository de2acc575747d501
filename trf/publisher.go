package trf

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// publishTimeout bounds how long a publish waits for the broker.
const publishTimeout = 2 * time.Second

// Publisher publishes fit results to MQTT, one retained message per job on
// <prefix>/<id> and a combined summary on <prefix>/transforms.
type Publisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	retain  bool
	logger  *zap.Logger
	results map[string]JobResult
	mu      sync.RWMutex
}

// NewPublisher creates a result publisher. An empty prefix means "trfit".
func NewPublisher(client mqtt.Client, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = "trfit"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		qos:     1,
		retain:  true,
		logger:  logger,
		results: make(map[string]JobResult),
	}
}

// Prefix returns the topic prefix.
func (p *Publisher) Prefix() string { return p.prefix }

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// PublishResult records res and publishes it to its own topic and the
// combined topic.
func (p *Publisher) PublishResult(res JobResult) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	p.results[res.ID] = res
	p.mu.Unlock()

	if err := p.publish(fmt.Sprintf("%s/%s", p.prefix, res.ID), res); err != nil {
		p.logger.Error("publishing result", zap.String("job", res.ID), zap.Error(err))
		return err
	}
	if err := p.publishCombined(); err != nil {
		p.logger.Error("publishing combined results", zap.Error(err))
		return err
	}
	p.logger.Debug("published result",
		zap.String("job", res.ID),
		zap.Stringer("status", res.Status),
		zap.Float64("rmse", res.RMSE),
	)
	return nil
}

type combinedResults struct {
	Transforms []JobResult `json:"transforms"`
	Timestamp  int64       `json:"timestamp"`
}

func (p *Publisher) publishCombined() error {
	return p.publish(fmt.Sprintf("%s/transforms", p.prefix), combinedResults{
		Transforms: p.Results(),
		Timestamp:  time.Now().Unix(),
	})
}

func (p *Publisher) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Result returns the last published result for a job.
func (p *Publisher) Result(id string) (JobResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res, ok := p.results[id]
	return res, ok
}

// Results returns every published result, ordered by job id.
func (p *Publisher) Results() []JobResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]JobResult, 0, len(p.results))
	for _, res := range p.results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Forget drops a job from the combined summary.
func (p *Publisher) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.results, id)
}
