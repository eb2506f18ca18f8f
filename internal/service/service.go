// Package service wires a loaded config.Config into a running deployment:
// the switch-output arbiters, alarm groups, and text outputs described by
// the document, an MQTT client carrying their traffic, and the periodic
// timers that persist state and publish it back to the bus.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hollowoak/alarmd/internal/alarm"
	"github.com/hollowoak/alarmd/internal/buildinfo"
	"github.com/hollowoak/alarmd/internal/config"
	"github.com/hollowoak/alarmd/internal/connwatch"
	"github.com/hollowoak/alarmd/internal/httpkit"
	"github.com/hollowoak/alarmd/internal/loop"
	"github.com/hollowoak/alarmd/internal/mqtt"
	"github.com/hollowoak/alarmd/internal/store"
)

// Service is one running alarmd deployment.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	engine     *loop.Engine
	store      *store.Store
	mqttClient *mqtt.Client
	httpClient *http.Client
	watch      *connwatch.Manager
	instanceID string

	groups      []*alarm.AlarmGroup
	groupByName map[string]*alarm.AlarmGroup
	textOutputs map[string]*alarm.TextOutput
	infoOutputs []*alarm.TextOutput
	arbiters    map[string]*alarm.SwitchOutputGroup
	probe       *alarm.SwitchOutput

	info          *infoCache
	infoRequested bool

	infoRequestTimer *loop.Timer
	infoPublishTimer *loop.Timer
	saveTimer        *loop.Timer

	// SuppressInfoPublish disables only the 180s periodic info-publish
	// request; it never drops a publish requested by a real alarm
	// transition or command handler. Lets tests drive requestInfoPublish
	// deterministically without the periodic heartbeat also firing.
	SuppressInfoPublish bool
}

// New builds a Service from a validated config, opening its state store
// and MQTT client but not yet connecting to the broker — call Run for
// that.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(filepath.Join(cfg.Service.DataDir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	instanceID, err := LoadOrCreateInstanceID(cfg.Service.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load instance id: %w", err)
	}

	engine := loop.NewEngine(logger)

	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("%s-%s", mqttCfg.ClientID, instanceID)
	mqttClient := mqtt.New(mqttCfg, cfg.Service.Name, engine, logger)

	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(10*time.Second),
		httpkit.WithUserAgent(buildinfo.UserAgent()),
		httpkit.WithLogger(logger),
	)

	s := &Service{
		cfg:        cfg,
		logger:     logger,
		engine:     engine,
		store:      st,
		mqttClient: mqttClient,
		httpClient: httpClient,
		instanceID: instanceID,
		info:       newInfoCache(),
		watch:      connwatch.NewManager(logger),
	}

	s.arbiters = buildSwitchOutputGroups(cfg, engine, mqttClient.Publish, httpClient, logger)
	s.probe = buildSwitchOutput(cfg.Probe, engine, mqttClient.Publish, httpClient, logger)

	s.groups, s.groupByName, err = buildGroups(cfg, s.arbiters, engine, st, s.warn, s.requestInfoPublish, mqttClient)
	if err != nil {
		return nil, fmt.Errorf("build groups: %w", err)
	}
	s.textOutputs = buildTextOutputs(cfg, s.groups, s.publishText)
	bindTextOutputs(cfg, s.groupByName, s.textOutputs)
	s.infoOutputs = infoTextOutputs(s.textOutputs)

	s.subscribeCommands()

	return s, nil
}

// InstanceID is the stable identifier persisted under the config's data
// directory, used as the MQTT client ID suffix.
func (s *Service) InstanceID() string { return s.instanceID }

// Status reports the broker-reachability health surface.
func (s *Service) Status() map[string]connwatch.ServiceStatus {
	return s.watch.Status()
}

// warn is the alarm.WarnFunc passed to every input and group: it always
// logs, and also fans out to every text output flagged Info, so a single
// MQTT subscription can surface operational warnings.
func (s *Service) warn(msg string) {
	s.logger.Warn(msg)
	for _, to := range s.infoOutputs {
		to.SendInfo(msg)
	}
}

// requestInfoPublish marks that group state has changed since the last
// publish cycle; the 0.2s timer in Run does the actual publish.
func (s *Service) requestInfoPublish() {
	s.infoRequested = true
}

func (s *Service) publishText(topic, message string) {
	s.publishRaw(topic, []byte(message))
}

func (s *Service) subscribeCommands() {
	for _, g := range s.groups {
		g := g
		s.mqttClient.Subscribe(g.Name()+"/enabled/command", func(_ string, payload []byte) {
			g.HandleEnabledCommand(string(payload))
		})
		s.mqttClient.Subscribe(g.Name()+"/inhibited/command", func(_ string, payload []byte) {
			g.HandleInhibitedCommand(string(payload))
		})
		s.mqttClient.Subscribe(g.Name()+"/reset/command", func(_ string, payload []byte) {
			g.HandleResetCommand(string(payload))
		})
		s.mqttClient.Subscribe(g.Name()+"/auto/command", func(_ string, payload []byte) {
			g.HandleAutoCommand(string(payload))
		})
	}

	s.mqttClient.Subscribe("reset/command", func(_ string, payload []byte) {
		if !alarm.IsOn(string(payload)) {
			return
		}
		for _, g := range s.groups {
			g.HandleResetCommand(string(payload))
		}
	})
}

// Run starts the engine loop, connects to the broker, and blocks until
// ctx is cancelled or the connection fails permanently.
func (s *Service) Run(ctx context.Context) error {
	go s.engine.Run(ctx)

	if s.probe != nil {
		s.engine.Submit(func() { s.probe.On() })
	}

	s.watch.Watch(ctx, connwatch.WatcherConfig{
		Name:    "broker",
		Probe:   s.mqttClient.AwaitConnection,
		Backoff: connwatch.DefaultBackoffConfig(),
		Logger:  s.logger,
	})

	s.infoRequestTimer = loop.Every(s.engine, 180*time.Second, func() bool {
		if !s.SuppressInfoPublish {
			s.requestInfoPublish()
		}
		return true
	}, true)

	s.infoPublishTimer = loop.Every(s.engine, 200*time.Millisecond, func() bool {
		if s.infoRequested {
			s.publishInfo()
			s.infoRequested = false
		}
		return true
	}, true)

	s.saveTimer = loop.Every(s.engine, 5*time.Minute, func() bool {
		if err := s.store.Save(); err != nil {
			s.logger.Warn("periodic state save failed", "error", err)
		}
		return true
	}, true)

	s.requestInfoPublish()

	runErr := s.mqttClient.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.mqttClient.Stop(stopCtx); err != nil {
		s.logger.Warn("mqtt stop failed", "error", err)
	}
	if err := s.store.Save(); err != nil {
		s.logger.Warn("final state save failed", "error", err)
	}
	return runErr
}

// Close releases the state store. Call after Run returns.
func (s *Service) Close() error {
	return s.store.Close()
}
