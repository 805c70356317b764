package run

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/clambin/go-common/taskmanager"
	"github.com/clambin/go-common/taskmanager/httpserver"
	"github.com/clambin/irrigator/internal/collector"
	"github.com/clambin/irrigator/internal/configuration"
	"github.com/clambin/irrigator/internal/coordinator"
	"github.com/clambin/irrigator/internal/hardware"
	"github.com/clambin/irrigator/internal/hardware/periph"
	"github.com/clambin/irrigator/internal/health"
	"github.com/clambin/irrigator/internal/indicator"
	"github.com/clambin/irrigator/internal/link"
	"github.com/clambin/irrigator/internal/notifier"
	"github.com/clambin/irrigator/internal/poller"
	"github.com/clambin/irrigator/internal/remotestate"
	"github.com/clambin/irrigator/internal/reporter"
	"github.com/clambin/irrigator/internal/sensor"
	"github.com/clambin/irrigator/internal/sequencer"
	"github.com/clambin/irrigator/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = cobra.Command{
	Use:   "run",
	Short: "run the irrigation controller",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := configuration.FromViper(viper.GetViper())
		if err != nil {
			return fmt.Errorf("configuration: %w", err)
		}
		return Run(cmd.Context(), cfg, cmd.Root().Version, charmer.GetLogger(cmd))
	},
}

const (
	slackTimeout          = 10 * time.Second
	notificationQueueSize = 10
)

// Run starts the controller and blocks until it receives SIGINT or SIGTERM, or one of its tasks fails.
func Run(ctx context.Context, cfg configuration.Configuration, version string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("irrigator starting", "version", version)
	defer logger.Info("irrigator stopped")

	board, err := openBoard(cfg, logger.With("component", "board"))
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}
	defer func() {
		if err := board.Close(); err != nil {
			logger.Warn("failed to close board", "err", err)
		}
	}()

	var mqttClient telemetry.Publisher
	if cfg.MQTT.Broker != "" {
		// telemetry is optional: the controller runs without it
		if c, err := telemetry.Connect(ctx, cfg.MQTT, logger.With("component", "mqtt")); err == nil {
			mqttClient = c
		} else {
			logger.Error("telemetry disabled", "err", err)
		}
	}

	var slackSender notifier.SlackSender
	if cfg.Slack.Token != "" {
		slackSender = slack.New(cfg.Slack.Token, slack.OptionHTTPClient(&http.Client{Timeout: slackTimeout}))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return taskmanager.New(makeTasks(cfg, board, mqttClient, slackSender, registry, logger)...).Run(ctx)
}

func openBoard(cfg configuration.Configuration, logger *slog.Logger) (*hardware.Board, error) {
	if cfg.Board.Driver != configuration.DriverPeriph {
		logger.Info("using simulated board")
		return hardware.NewSimulated(logger), nil
	}
	if cfg.Sensor.Calibration == sensor.DefaultCalibration {
		logger.Warn("sensor uses the default calibration, which doesn't match the ADS1115 range. set sensor.highBound and sensor.lowBound")
	}

	lights := make(map[hardware.Light]string)
	for light, pin := range map[hardware.Light]string{
		hardware.LowHydration:      cfg.Pins.Low,
		hardware.ModerateHydration: cfg.Pins.Moderate,
		hardware.GoodHydration:     cfg.Pins.Good,
		hardware.Valve:             cfg.Pins.Valve,
		hardware.Link:              cfg.Pins.Link,
	} {
		if pin != "" {
			lights[light] = pin
		}
	}
	return periph.Open(periph.Config{
		I2CBus:      cfg.Pins.I2CBus,
		ADCAddress:  cfg.Pins.ADCAddress,
		ADCChannel:  cfg.Pins.ADCChannel,
		ServoPin:    cfg.Pins.Servo,
		OpenPulse:   cfg.Servo.OpenPulse,
		ClosedPulse: cfg.Servo.ClosedPulse,
		Settle:      cfg.Servo.Settle,
		LightPins:   lights,
	}, logger)
}

func makeTasks(
	cfg configuration.Configuration,
	board *hardware.Board,
	mqttClient telemetry.Publisher,
	slackSender notifier.SlackSender,
	registry *prometheus.Registry,
	l *slog.Logger,
) []taskmanager.Task {
	var tasks []taskmanager.Task

	panel := indicator.Panel{Lights: board.Lights, Logger: l.With("component", "indicator")}
	lnk := link.New(panel, l.With("component", "link"))
	store := remotestate.New(cfg.Board.SensorID, l.With("component", "remotestate"))

	// Coordinator client
	m := newCoordinatorMetrics(prometheus.Labels{"sensor_id": strconv.FormatUint(uint64(cfg.Board.SensorID), 10)})
	registry.MustRegister(m)
	options := []coordinator.Option{
		coordinator.WithTimeout(cfg.Coordinator.Timeout),
		coordinator.WithRoundTripper(instrumentedRoundTripper(http.DefaultTransport, m)),
	}
	if cfg.Coordinator.Breaker.Enabled {
		options = append(options, coordinator.WithBreaker(cfg.Coordinator.Breaker.Failures, cfg.Coordinator.Breaker.OpenFor, l.With("component", "coordinator")))
	}
	client := coordinator.New(cfg.Coordinator.URL, cfg.Board.SensorSlot, options...)

	// Poller
	p := poller.New(client, store, lnk, cfg.Poller.Interval, l.With("component", "poller"))
	tasks = append(tasks, p)

	// Reporter
	conditioner := sensor.Conditioner{Sampler: board.Sampler, Samples: cfg.Sensor.Samples, Calibration: cfg.Sensor.Calibration}
	r := reporter.New(conditioner, client, store, panel, lnk, cfg.Reporter, l.With("component", "reporter"))
	tasks = append(tasks, r)

	// Notifiers
	notifiers := notifier.Notifiers{&notifier.SLogNotifier{Logger: l.With("component", "notifier")}}
	if slackSender != nil {
		notifiers = append(notifiers, &notifier.SlackNotifier{
			SlackSender: slackSender,
			Channel:     cfg.Slack.Channel,
			Logger:      l.With("component", "slack"),
		})
	}
	if mqttClient != nil {
		mirror := telemetry.New(mqttClient, cfg.MQTT.Topic, cfg.Board.SensorID, r, l.With("component", "telemetry"))
		notifiers = append(notifiers, mirror)
		tasks = append(tasks, mirror)
	}

	// Collector
	coll := &collector.Collector{Readings: r, State: store, Link: lnk, Logger: l.With("component", "collector")}

	// Sequencer: only boards with a valve run one
	var phases health.PhaseReader
	if cfg.Board.Valve {
		queue := notifier.NewQueue(notifiers, notificationQueueSize, l.With("component", "notifier"))
		tasks = append(tasks, queue)
		s := sequencer.New(store, board.Actuator, panel, queue, cfg.Sequencer.Durations, cfg.Sequencer.Tick, l.With("component", "sequencer"))
		tasks = append(tasks, s)
		coll.Sequencer = s
		phases = s
	} else {
		l.Warn("board has no valve. sequencer will not run")
	}

	registry.MustRegister(coll)
	tasks = append(tasks, coll)

	// Health Endpoint
	h := health.New(store, r, p, phases, l.With("component", "health"))
	tasks = append(tasks, h)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Method(http.MethodGet, "/health", h)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	tasks = append(tasks, httpserver.New(cfg.Health.Addr, router))

	return tasks
}
