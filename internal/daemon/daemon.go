// Package daemon wires configuration, logging, metrics, the Writer, the
// Handler, the Controller, and the control-plane receivers into one
// running recorder process and manages its signal-driven lifecycle.
//
// Grounded on firestige-Otus/internal/daemon/daemon.go: the same
// numbered Start() sequence, the same ctx/cancel plus sigChan/shutdownChan
// Run() loop, the same Stop() teardown order reversed from Start().
package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/otusdds/recorder/internal/command"
	"github.com/otusdds/recorder/internal/config"
	"github.com/otusdds/recorder/internal/controller"
	"github.com/otusdds/recorder/internal/handler"
	"github.com/otusdds/recorder/internal/idgen"
	"github.com/otusdds/recorder/internal/ingress"
	logpkg "github.com/otusdds/recorder/internal/log"
	"github.com/otusdds/recorder/internal/metrics"
	"github.com/otusdds/recorder/internal/model"
	"github.com/otusdds/recorder/internal/rerr"
	"github.com/otusdds/recorder/internal/writer"
	"github.com/otusdds/recorder/internal/writer/chunklog"
	"github.com/otusdds/recorder/internal/writer/relstore"
)

// Daemon owns the recorder process's component graph and lifecycle.
type Daemon struct {
	configPath string
	socketPath string
	pidFile    string

	cfg *config.RecorderConfig
	log *logrus.Entry

	registry *prometheus.Registry
	mtr      *metrics.Metrics

	h          *handler.Handler
	controller *controller.Controller
	uds        *command.UDSServer
	kafka      *command.KafkaReceiver
	metricsSrv *metrics.Server
	ingress    ingress.DDSIngress
	typeReg    ingress.TypeRegistry
	filter     ingress.TopicFilter

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads configuration and builds an idle Daemon; call Start to wire
// and launch every component.
func New(configPath, socketPath, pidFile string, in ingress.DDSIngress, reg ingress.TypeRegistry) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrConfiguration, err)
	}

	d := &Daemon{
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		cfg:          cfg,
		ingress:      in,
		typeReg:      reg,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes logging, metrics, the Handler/Controller graph, and
// every control-plane receiver, then begins ingesting from d.ingress.
func (d *Daemon) Start() error {
	if err := logpkg.Init(d.cfg.Log); err != nil {
		return fmt.Errorf("%w: init logging: %v", rerr.ErrInitialization, err)
	}
	d.log = logpkg.Get().WithField("component", "daemon")
	d.log.WithField("config", d.configPath).Info("starting recorder daemon")

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("%w: write pid file: %v", rerr.ErrInitialization, err)
	}

	d.registry = prometheus.NewRegistry()
	d.mtr = metrics.New(d.registry)

	if d.cfg.Metrics.Enable {
		d.metricsSrv = metrics.NewServer(d.cfg.Metrics.Addr, d.registry)
		go func() {
			if err := <-d.metricsSrv.Start(); err != nil {
				d.log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	w, err := d.buildWriter()
	if err != nil {
		return err
	}

	d.h = handler.New(handler.Config{
		BufferSize:        d.cfg.Recorder.BufferSize,
		EventWindow:       d.cfg.Recorder.EventWindow,
		CleanupPeriod:     d.cfg.Recorder.CleanupPeriod,
		MaxPendingSamples: d.cfg.Recorder.MaxPendingSamples,
		OnlyWithSchema:    d.cfg.Recorder.OnlyWithSchema,
		LogPublishTime:    d.cfg.Recorder.LogPublishTime,
		RecordTypes:       d.cfg.Recorder.RecordTypes,
		ROS2Types:         d.cfg.Recorder.ROS2Types,
		FileBaseName:      d.outputBaseName(),
	}, w, d.log.WithField("component", "handler"))

	d.controller = controller.New(d.h, d.buildPublisher(), d.log.WithField("component", "controller"))

	d.filter = ingress.NewTopicFilter(d.cfg.DDS.Whitelist, d.cfg.DDS.Allowlist, d.cfg.DDS.Blocklist)

	if err := d.startControlPlane(); err != nil {
		return err
	}

	initial := model.ParseState(d.cfg.Recorder.InitialState)
	if err := d.controller.Bootstrap(d.ctx, initial); err != nil {
		return fmt.Errorf("%w: bootstrap initial state: %v", rerr.ErrInitialization, err)
	}

	if d.ingress != nil {
		go d.runIngress()
	}

	d.log.Info("recorder daemon started")
	return nil
}

func (d *Daemon) buildWriter() (writer.Writer, error) {
	rl := writer.ResourceLimits{
		MaxFileSize:         d.cfg.Recorder.Output.ResourceLimits.MaxFileSize,
		MaxSize:             d.cfg.Recorder.Output.ResourceLimits.MaxSize,
		SafetyMargin:        d.cfg.Recorder.Output.ResourceLimits.SafetyMargin,
		FileRotationEnabled: d.cfg.Recorder.Output.ResourceLimits.FileRotation,
		LogRotationEnabled:  d.cfg.Recorder.Output.ResourceLimits.LogRotation,
		FlushPeriod:         d.cfg.Recorder.Output.ResourceLimits.FlushPeriod,
	}

	switch d.cfg.Recorder.Output.Container {
	case "relstore":
		if err := rl.Normalize(true); err != nil {
			return nil, fmt.Errorf("%w: %v", rerr.ErrConfiguration, err)
		}
		format := relstore.FormatCDR
		switch d.cfg.Recorder.Output.DataFormat {
		case "json":
			format = relstore.FormatJSON
		case "both":
			format = relstore.FormatBoth
		}
		return relstore.New(relstore.Config{
			Dir:        d.cfg.Recorder.Output.Path,
			Format:     format,
			Limits:     rl,
			JSONEncode: encodePayloadAsJSON,
		}), nil
	default:
		if err := rl.Normalize(false); err != nil {
			return nil, fmt.Errorf("%w: %v", rerr.ErrConfiguration, err)
		}
		return chunklog.New(chunklog.Config{
			Dir:             d.cfg.Recorder.Output.Path,
			TimestampUTC:    !d.cfg.Recorder.Output.LocalTimestamp,
			TimestampLayout: d.cfg.Recorder.Output.TimestampFormat,
			Limits:          rl,
		}), nil
	}
}

// encodePayloadAsJSON backs relstore.Config.JSONEncode. Decoding a
// payload's CDR-encoded fields would require the DDS IDL for its type,
// which is out of scope (spec.md §1); this instead wraps the opaque bytes
// in a small JSON envelope so recorder.output.data-format=json/both still
// produces something a downstream tool can parse without a CDR decoder.
func encodePayloadAsJSON(typeName string, payload []byte) (string, error) {
	out, err := json.Marshal(struct {
		TypeName string `json:"type_name"`
		DataB64  string `json:"data_base64"`
	}{TypeName: typeName, DataB64: base64.StdEncoding.EncodeToString(payload)})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// outputBaseName resolves the file base name passed to Writer.Open. An
// unconfigured filename falls back to a fresh run id rather than a fixed
// name, so two STOPPED->RUNNING transitions against the same output path
// never collide.
func (d *Daemon) outputBaseName() string {
	name := d.cfg.Recorder.Output.Filename
	if name == "" {
		name = idgen.NewRunID()
	}
	return filepath.Join(d.cfg.Recorder.Output.Path, name)
}

// buildPublisher wires the optional Kafka status sink (if configured)
// behind a metricsPublisher, which always updates the State gauge
// regardless of whether a remote status channel exists.
func (d *Daemon) buildPublisher() controller.Publisher {
	var inner controller.Publisher
	if d.cfg.RemoteController.Enable && len(d.cfg.RemoteController.KafkaBrokers) > 0 {
		d.kafka = command.NewKafkaReceiver(command.KafkaConfig{
			Brokers:      d.cfg.RemoteController.KafkaBrokers,
			CommandTopic: d.cfg.RemoteController.CommandTopic,
			StatusTopic:  d.cfg.RemoteController.StatusTopic,
			GroupID:      d.cfg.RemoteController.KafkaGroupID,
		}, dispatchFunc(d.controllerDispatch), d.log.WithField("component", "kafka"))
		inner = d.kafka
	}
	return metricsPublisher{mtr: d.mtr, inner: inner}
}

// metricsPublisher implements controller.Publisher, updating the State
// gauge on every status before forwarding (if any) to the remote sink.
type metricsPublisher struct {
	mtr   *metrics.Metrics
	inner controller.Publisher
}

func (p metricsPublisher) Publish(status controller.Status) {
	p.mtr.State.Set(stateGaugeValue(model.ParseState(status.Current)))
	if p.inner != nil {
		p.inner.Publish(status)
	}
}

// stateGaugeValue maps a State to the gauge scale documented on
// metrics.Metrics.State.
func stateGaugeValue(s model.State) float64 {
	switch s {
	case model.StateRunning:
		return 1
	case model.StatePaused:
		return 2
	case model.StateSuspended:
		return 3
	case model.StateClosed:
		return 4
	default:
		return 0
	}
}

// dispatchFunc adapts a plain function to command.Dispatcher, used because
// d.controller does not exist yet at the point buildPublisher wires the
// KafkaReceiver to it.
type dispatchFunc func(ctx context.Context, raw string, args map[string]any) error

func (f dispatchFunc) Dispatch(ctx context.Context, raw string, args map[string]any) error {
	return f(ctx, raw, args)
}

func (d *Daemon) controllerDispatch(ctx context.Context, raw string, args map[string]any) error {
	return d.controller.Dispatch(ctx, raw, args)
}

func (d *Daemon) startControlPlane() error {
	d.uds = command.NewUDSServer(d.socketPath, dispatchFunc(d.controllerDispatch), d.h, d.log.WithField("component", "uds"))
	if err := d.uds.Start(d.ctx); err != nil {
		return fmt.Errorf("%w: start uds server: %v", rerr.ErrInitialization, err)
	}

	if d.kafka != nil {
		go func() {
			if err := d.kafka.Run(d.ctx); err != nil && d.ctx.Err() == nil {
				d.log.WithError(err).Error("kafka command receiver failed")
			}
		}()
	}
	return nil
}

// runIngress bridges ingress.DDSIngress to the Handler, applying the
// topic filter and dynamic-type resolution ahead of AddSample, per
// SPEC_FULL.md §2.6's description of the ingress/Handler boundary.
func (d *Daemon) runIngress() {
	go func() {
		if err := d.ingress.Run(d.ctx); err != nil && d.ctx.Err() == nil {
			d.log.WithError(err).Error("dds ingress failed")
		}
	}()

	for sample := range d.ingress.Samples() {
		if !d.filter.Allows(sample.TopicName) {
			continue
		}
		s := sample
		if d.typeReg != nil {
			d.typeReg.Resolve(s.TypeName, func(schema model.Schema) {
				if err := d.h.AddSchema(schema); err != nil {
					d.log.WithError(err).Warn("failed to register resolved schema")
				}
			})
		}
		if err := d.h.AddSample(&s); err != nil {
			d.log.WithError(err).WithField("topic", s.TopicName).Debug("sample rejected")
		}
	}
}

// Stop performs graceful shutdown in the reverse order of Start.
func (d *Daemon) Stop() {
	d.log.Info("stopping recorder daemon")

	if d.kafka != nil {
		if err := d.kafka.Close(); err != nil {
			d.log.WithError(err).Warn("error closing kafka receiver")
		}
	}

	if d.uds != nil {
		if err := d.uds.Stop(); err != nil {
			d.log.WithError(err).Warn("error stopping uds server")
		}
	}

	if d.controller != nil {
		// Route shutdown through Controller.Dispatch("close", nil) rather
		// than calling Handler.Transition directly, so an OS termination
		// signal still produces the CLOSED status message spec.md §4.7
		// requires of every close command, synthetic or not.
		if err := d.controller.Dispatch(context.Background(), "close", nil); err != nil {
			d.log.WithError(err).Warn("error closing controller on shutdown")
		}
	}
	if d.h != nil {
		d.h.Shutdown()
	}

	if d.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsSrv.Stop(shutdownCtx); err != nil {
			d.log.WithError(err).Warn("error stopping metrics server")
		}
	}

	d.cancel()
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}
	if err := d.removePIDFile(); err != nil {
		d.log.WithError(err).Warn("error removing pid file")
	}
	d.log.Info("recorder daemon stopped")
}

// Run blocks until a shutdown signal, a daemon_shutdown-style command via
// d.shutdownChan, or ctx cancellation arrives.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.log.WithField("signal", sig).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				d.log.Info("received reload signal")
				if err := d.Reload(); err != nil {
					d.log.WithError(err).Error("reload failed")
				}
			}
		case <-d.shutdownChan:
			d.Stop()
			return nil
		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads and validates configuration and replaces the daemon's
// stored copy of it. Running components keep the settings they were
// started with: a changed log level/format is only logged as needing a
// restart, and recorder.output.*, dds.* and the control socket are not
// re-applied either (SPEC_FULL.md §1.1).
func (d *Daemon) Reload() error {
	newCfg, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrConfiguration, err)
	}
	if newCfg.Log.Level != d.cfg.Log.Level || newCfg.Log.Format != d.cfg.Log.Format {
		d.log.WithField("level", newCfg.Log.Level).Info("log configuration changed, restart required to apply")
	}
	d.cfg = newCfg
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	err := os.Remove(d.pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

