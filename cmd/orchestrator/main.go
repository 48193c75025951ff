package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/RuleChain/internal/api"
	"github.com/AaronLay10/RuleChain/internal/config"
	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/metrics"
	"github.com/AaronLay10/RuleChain/internal/mqtt"
	"github.com/AaronLay10/RuleChain/internal/orchestrator"
	"github.com/AaronLay10/RuleChain/internal/sandbox"
	"github.com/AaronLay10/RuleChain/internal/storage"
	"github.com/AaronLay10/RuleChain/internal/version"
)

const healthCheckInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("RULECHAIN_CONFIG"), "path to engine.yaml")
	flag.Parse()

	events.SetConsole(os.Stdout)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "engine starting", map[string]interface{}{
		"service":        "orchestrator",
		"hostname":       hostname,
		"pid":            os.Getpid(),
		"version":        version.Version,
		"integration_id": cfg.Engine.IntegrationID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := api.InitAuth(); err != nil {
		log.Fatalf("failed to init auth: %v", err)
	}

	m := metrics.New()
	if err := m.RegisterBuildInfo(version.Version, cfg.Engine.IntegrationID); err != nil {
		log.Printf("metrics registration failed: %v", err)
	}

	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer stores.Close()

	api.SetPostgresState(stores.Postgres != nil, !cfg.Postgres.Enabled)
	if stores.Postgres != nil {
		events.SetSink(stores.Postgres)
		defer events.SetSink(nil)
	}

	devices, err := initialDevices(ctx, cfg, stores)
	if err != nil {
		log.Fatalf("failed to load devices: %v", err)
	}

	policy, err := orchestrator.ParseErrorPolicy(cfg.Batch.ErrorPolicy)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	registry := mqtt.NewDeviceRegistry()
	monitor := mqtt.NewMonitor(registry, deviceSpecs(cfg.Devices), cfg.MQTT.HeartbeatTolerance)

	mqttEnabled := cfg.MQTT.URL != ""
	var client *mqtt.Client
	var updater orchestrator.DeviceUpdater
	hooks := &connHooks{}
	if mqttEnabled {
		client = mqtt.NewClient(mqtt.Options{
			URL:              cfg.MQTT.URL,
			ClientID:         cfg.MQTT.ClientID,
			OnConnect:        hooks.connected,
			OnConnectionLost: hooks.lost,
		})
		updater = orchestrator.NewMQTTDeviceUpdater(client, registry, cfg.MQTT.CommandTopicTemplate, cfg.MQTT.Strict)
	}
	api.SetMQTTState(false, !mqttEnabled)

	rt := orchestrator.NewRuntime(
		sandbox.New(cfg.SandboxConfig()),
		updater,
		orchestrator.WithMaxSteps(cfg.Engine.MaxSteps),
		orchestrator.WithMetrics(m),
	)
	batch := orchestrator.NewBatchRunner(rt, stores.Chains, policy)
	worker := orchestrator.NewWorker(batch, devices, orchestrator.WorkerConfig{
		RunOnTelemetry: cfg.Batch.RunOnTelemetry,
		Interval:       cfg.Batch.Interval,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	if mqttEnabled {
		startMQTT(cfg, client, hooks, registry, monitor, worker)
		monitor.Start(healthCheckInterval)
		defer monitor.Stop()
		if err := m.RegisterGauge("controllers_connected", "Controllers with a live heartbeat", func() float64 {
			return float64(len(monitor.ConnectedControllers()))
		}); err != nil {
			log.Printf("metrics registration failed: %v", err)
		}
	}

	srv := api.NewServer(api.Options{
		Store:   stores.Chains,
		Batch:   worker,
		Metrics: m,
		TLS:     api.TLSFromEnv(),
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx, cfg.APIPort()); err != nil {
			log.Printf("api server failed: %v", err)
			stop()
		}
	}()

	api.SetOrchestratorReady(true)
	<-ctx.Done()
	api.SetOrchestratorReady(false)

	if client != nil {
		client.Disconnect()
	}
	wg.Wait()

	events.Emit("info", "system.shutdown", "engine stopped", map[string]interface{}{
		"service":  "orchestrator",
		"hostname": hostname,
	})
	events.CloseAllSubscribers()
}

// loadConfig reads engine.yaml. Without a path the defaults plus the
// environment are used.
func loadConfig(path string) (*config.EngineConfig, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.ApplyEnv()
	}
	return config.LoadEngineConfig(path)
}

// initialDevices seeds the device table from engine.devices, then replays
// the persisted event log over it.
func initialDevices(ctx context.Context, cfg *config.EngineConfig, stores *storage.Stores) (orchestrator.Devices, error) {
	devices := orchestrator.Devices{}
	if cfg.Engine.Devices != "" {
		seed, err := orchestrator.LoadDevices(cfg.Engine.Devices)
		if err != nil {
			return nil, err
		}
		devices = seed
	}

	if stores.Postgres == nil {
		return devices, nil
	}

	restored, n, err := orchestrator.RestoreDevices(ctx, stores.Postgres, cfg.Engine.RestoreLimit)
	if err != nil {
		events.Emit("warn", "system.error", "device restore failed", map[string]interface{}{
			"error": err.Error(),
		})
		return devices, nil
	}
	ec := orchestrator.NewExecutionContext(devices)
	for deviceID, params := range restored {
		ec.Merge(deviceID, params)
	}
	orchestrator.EmitStartupRestore(n, len(restored))
	return ec.Devices, nil
}

// connHooks forwards the client's connection callbacks to handlers set
// after the client is built. They must be set before Connect.
type connHooks struct {
	onConnect func()
	onLost    func(error)
}

func (h *connHooks) connected() {
	if h.onConnect != nil {
		h.onConnect()
	}
}

func (h *connHooks) lost(err error) {
	if h.onLost != nil {
		h.onLost(err)
	}
}

// startMQTT subscribes to registrations and telemetry on every (re)connect.
// A broker that is down at startup is retried in the background.
func startMQTT(cfg *config.EngineConfig, client *mqtt.Client, hooks *connHooks, registry *mqtt.DeviceRegistry, monitor *mqtt.Monitor, worker *orchestrator.Worker) {
	subscriber := mqtt.NewTelemetrySubscriber(client, registry, func(deviceID string, params map[string]interface{}) {
		monitor.Touch(deviceID)
		// Runs on paho's delivery goroutine, which also reads acks for the
		// worker's publishes: never block here.
		err := worker.TryIngest(orchestrator.TelemetryUpdate{DeviceID: deviceID, Params: params})
		if errors.Is(err, orchestrator.ErrQueueFull) {
			events.Emit("warn", "device.error", "telemetry dropped", map[string]interface{}{
				"device_id": deviceID,
				"error":     err.Error(),
			})
		}
	})
	monitor.OnRegister(func(dev *mqtt.RegisteredDevice) {
		// Called from the registration handler; Subscribe waits for a SUBACK.
		go func() {
			if err := subscriber.SubscribeDevice(dev); err != nil {
				log.Printf("mqtt: failed to subscribe to %s: %v", dev.TelemetryTopic, err)
			}
		}()
	})

	registrationTopic := cfg.MQTT.RegistrationTopic
	if registrationTopic == "" {
		registrationTopic = mqtt.DefaultRegistrationTopic
	}

	hooks.onConnect = func() {
		api.SetMQTTState(true, false)
		subscriber.ClearSubscriptions()
		if err := client.Subscribe(registrationTopic, func(_ paho.Client, msg paho.Message) {
			monitor.HandleMessage(msg.Payload())
		}); err != nil {
			log.Printf("mqtt: failed to subscribe to %s: %v", registrationTopic, err)
		}
		if err := subscriber.SubscribePattern(cfg.MQTT.TelemetryTopic); err != nil {
			log.Printf("mqtt: failed to subscribe to telemetry: %v", err)
		}
		subscriber.SubscribeAll()
		log.Printf("mqtt: connected to %s", client.URL())
	}

	hooks.onLost = func(err error) {
		api.SetMQTTState(false, false)
		events.Emit("warn", "system.error", "mqtt connection lost", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if err := client.Connect(); err != nil {
		log.Printf("mqtt: failed to connect to %s: %v (retrying)", client.URL(), err)
	}
}

func deviceSpecs(defs map[string]config.DeviceDefinition) map[string]mqtt.DeviceSpec {
	specs := make(map[string]mqtt.DeviceSpec, len(defs))
	for id, d := range defs {
		specs[id] = mqtt.DeviceSpec{Type: d.Type, Required: d.Required, Parameters: d.Parameters}
	}
	return specs
}
