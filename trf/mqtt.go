package trf

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Connect dials the broker in cfg and waits for the connection.
func Connect(cfg MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection interrupted, auto-reconnect will retry", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("MQTT reconnecting")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connecting to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	logger.Info("connected to MQTT broker", zap.String("broker", cfg.Broker), zap.String("clientId", cfg.ClientID))
	return client, nil
}

// FitService answers fit requests received on <prefix>/fit. Each request is
// a JSON JobConfig; the result is published through the Publisher and handed
// to the OnResult callback.
type FitService struct {
	client    mqtt.Client
	publisher *Publisher
	solver    Solver
	logger    *zap.Logger

	// OnResult, when set, is called with every result after publishing.
	OnResult func(JobResult)
}

// NewFitService creates a service that publishes through pub.
func NewFitService(client mqtt.Client, pub *Publisher, solver Solver, logger *zap.Logger) *FitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FitService{client: client, publisher: pub, solver: solver, logger: logger}
}

// Topic returns the request topic.
func (s *FitService) Topic() string {
	return fmt.Sprintf("%s/fit", s.publisher.Prefix())
}

// Start subscribes to the request topic.
func (s *FitService) Start() error {
	token := s.client.Subscribe(s.Topic(), 1, s.handle)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", s.Topic(), token.Error())
	}
	s.logger.Info("listening for fit requests", zap.String("topic", s.Topic()))
	return nil
}

// Stop unsubscribes from the request topic.
func (s *FitService) Stop() {
	s.client.Unsubscribe(s.Topic()).WaitTimeout(time.Second)
}

func (s *FitService) handle(_ mqtt.Client, msg mqtt.Message) {
	res := s.Handle(msg.Payload())
	if err := s.publisher.PublishResult(res); err != nil {
		s.logger.Error("publishing fit result", zap.String("job", res.ID), zap.Error(err))
	}
	if s.OnResult != nil {
		s.OnResult(res)
	}
}

// Handle decodes and fits one request payload.
func (s *FitService) Handle(payload []byte) JobResult {
	var job JobConfig
	if err := json.Unmarshal(payload, &job); err != nil {
		s.logger.Warn("invalid fit request", zap.Int("bytes", len(payload)), zap.Error(err))
		return failedJob(JobConfig{ID: "invalid"}, fmt.Errorf("%w: decoding request: %w", ErrNotSupported, err))
	}
	cfg := Config{Jobs: []JobConfig{job}}
	if err := cfg.Validate(); err != nil {
		s.logger.Warn("invalid fit request", zap.String("job", job.ID), zap.Error(err))
		if job.ID == "" {
			job.ID = "invalid"
		}
		return failedJob(job, fmt.Errorf("%w: %w", ErrDimensionMismatch, err))
	}
	res := RunJob(job, s.solver)
	s.logger.Info("fit request handled",
		zap.String("job", job.ID),
		zap.Stringer("kind", job.Kind),
		zap.Stringer("status", res.Status),
		zap.Float64("rmse", res.RMSE),
	)
	return res
}
