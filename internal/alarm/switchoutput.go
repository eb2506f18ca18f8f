package alarm

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hollowoak/alarmd/internal/loop"
)

// PublishFunc sends a retained-or-not MQTT message, matching
// (*mqtt.Client).Publish's signature without importing the mqtt package
// directly into the effect leaf.
type PublishFunc func(ctx context.Context, topic string, payload []byte, retain bool) error

// SwitchOutput is a single leaf effect: publish to an MQTT topic, POST to
// an HTTP endpoint, or both, optionally repeating on an interval while
// "on".
type SwitchOutput struct {
	mqttTopic string
	message   string
	httpPost  string
	repeat    time.Duration

	publish    PublishFunc
	httpClient *http.Client
	logger     *slog.Logger

	timer *loop.Timer
	on    bool
}

// SwitchOutputConfig bundles a leaf effect's static configuration.
type SwitchOutputConfig struct {
	MQTTTopic string
	Message   string
	HTTPPost  string
	Repeat    time.Duration
}

// NewSwitchOutput builds a leaf effect. httpClient should already be
// configured with the shared outbound-HTTP conventions (timeout, user
// agent); a 10-second send-level timeout is applied regardless.
func NewSwitchOutput(cfg SwitchOutputConfig, engine *loop.Engine, publish PublishFunc, httpClient *http.Client, logger *slog.Logger) *SwitchOutput {
	o := &SwitchOutput{
		mqttTopic:  cfg.MQTTTopic,
		message:    cfg.Message,
		httpPost:   cfg.HTTPPost,
		repeat:     cfg.Repeat,
		publish:    publish,
		httpClient: httpClient,
		logger:     logger,
	}
	if cfg.Repeat > 0 {
		o.timer = loop.Every(engine, cfg.Repeat, o.send, false)
	}
	return o
}

// IsOn reports whether this effect is currently active.
func (o *SwitchOutput) IsOn() bool { return o.on }

// On activates the effect: sends once, or starts the repeat timer.
func (o *SwitchOutput) On() {
	o.on = true
	if o.timer != nil {
		o.timer.Restart(false)
		return
	}
	o.send()
}

// Off deactivates the effect. One-shot sends have nothing to rescind; a
// repeating effect stops its timer.
func (o *SwitchOutput) Off() {
	o.on = false
	if o.timer != nil {
		o.timer.Stop()
	}
}

func (o *SwitchOutput) send() bool {
	if o.mqttTopic != "" && o.publish != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := o.publish(ctx, o.mqttTopic, []byte(o.message), false)
		cancel()
		if err != nil {
			o.logger.Warn("switch output publish failed", "topic", o.mqttTopic, "error", err)
		}
	}
	if o.httpPost != "" && o.httpClient != nil {
		o.sendHTTP()
	}
	return true
}

func (o *SwitchOutput) sendHTTP() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.httpPost, nil)
	if err != nil {
		o.logger.Warn("switch output http request build failed", "url", o.httpPost, "error", err)
		return
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Warn("switch output http post failed", "url", o.httpPost, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		o.logger.Warn("switch output http post returned error status", "url", o.httpPost, "status", resp.StatusCode)
	}
}
