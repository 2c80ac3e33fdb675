package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/api"
	"github.com/markus-lassfolk/locnotifier/pkg/geocode"
	"github.com/markus-lassfolk/locnotifier/pkg/gps"
	"github.com/markus-lassfolk/locnotifier/pkg/history"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
	"github.com/markus-lassfolk/locnotifier/pkg/metrics"
	"github.com/markus-lassfolk/locnotifier/pkg/mqtt"
	"github.com/markus-lassfolk/locnotifier/pkg/notifications"
	"github.com/markus-lassfolk/locnotifier/pkg/picker"
	"github.com/markus-lassfolk/locnotifier/pkg/pidfile"
	"github.com/markus-lassfolk/locnotifier/pkg/settings"
	"github.com/markus-lassfolk/locnotifier/pkg/starlink"
	"github.com/markus-lassfolk/locnotifier/pkg/status"
	"github.com/markus-lassfolk/locnotifier/pkg/telem"
	"github.com/markus-lassfolk/locnotifier/pkg/uci"
	"github.com/markus-lassfolk/locnotifier/pkg/watcher"
)

var (
	configPath = flag.String("config", uci.DefaultPath, "Path to UCI configuration file")
	pidPath    = flag.String("pid-file", "", "Override PID file path")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error|trace)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (equivalent to trace level)")
	autoStart  = flag.Bool("start", false, "Start watching the saved destination on startup")
	version    = flag.Bool("version", false, "Show version information")
)

const (
	AppName    = "locnotifierd"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := uci.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	effectiveLogLevel := cfg.LogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	if *verbose {
		effectiveLogLevel = "trace"
	}
	logger := logx.NewLogger(effectiveLogLevel, AppName)

	if !cfg.Enable {
		logger.Info("Location notifier is disabled in configuration, exiting")
		return nil
	}

	if *pidPath != "" {
		cfg.PIDFile = *pidPath
	}
	pidFile := pidfile.New(cfg.PIDFile)
	if err := pidFile.Create(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("Failed to remove PID file", "error", err)
		}
	}()

	logger.Info("Starting location notifier daemon", "version", AppVersion, "pid", os.Getpid(), "config", *configPath)

	store, err := settings.Open(cfg.SettingsDB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var recorder *history.Store
	if cfg.HistoryDB != "" {
		recorder, err = history.Open(cfg.HistoryDB, logger)
		if err != nil {
			logger.Warn("Fix history disabled", "error", err)
		} else {
			defer recorder.Close()
		}
	}

	collector := metrics.NewCollector(true)
	fixes := telem.NewStore(cfg.FixBuffer)

	mqttClient := mqtt.NewClient(&cfg.MQTT, logger)
	if err := mqttClient.Connect(); err != nil {
		return err
	}
	defer mqttClient.Disconnect()

	router, starlinkSource := buildSources(cfg, mqttClient, logger)
	if !router.Has(pkg.ProviderNetwork) {
		logger.Warn("No location source configured, enable mqtt or starlink")
	}

	formatter := status.Formatter{Imperial: store.Imperial}
	hub := status.NewHub(formatter, logger)
	sinks := status.Multi{status.NewLogSink(logger, formatter), hub}

	done := make(chan struct{})
	defer close(done)
	if cfg.MQTT.Enabled {
		mqttSink := status.NewMQTTSink(mqttClient, mqttClient.Topic("status"), formatter, logger)
		sinks = append(sinks, mqttSink)
		go mqttSink.Run(done)
	}

	alerts, err := notifications.NewManagerFromConfig(&cfg.Notifications, logger)
	if err != nil {
		return err
	}
	defer alerts.Close()

	w := watcher.New(logger.With("subsystem", "watcher"), router, sinks, alerts)
	w.SetMetrics(collector)
	w.SetFixLog(fixes)
	w.SetAlertTimeout(cfg.AlertTimeout())
	if recorder != nil {
		w.SetRecorder(recorder)
	}
	service := watcher.NewService(w, store, logger)
	defer service.Stop()

	var geocoder geocode.Geocoder = geocode.Unavailable{}
	if cfg.GeocoderAPIKey != "" {
		g, err := geocode.NewGoogleGeocoder(cfg.GeocoderAPIKey, cfg.GeocoderRegion)
		if err != nil {
			logger.Warn("Geocoding disabled", "error", err)
		} else {
			geocoder = g
		}
	}
	pick := picker.New(store, geocoder, service, logger.With("subsystem", "picker"))
	pick.SetMetrics(collector)
	pick.Load()
	defer pick.Close()

	var server *api.Server
	if cfg.APIEnabled {
		deps := api.Deps{
			Service:  service,
			Settings: store,
			Picker:   pick,
			Fixes:    fixes,
			Status:   hub,
		}
		if recorder != nil {
			deps.History = recorder
		}
		if cfg.MetricsEnabled {
			deps.Metrics = collector.Handler()
		}
		server = api.NewServer(api.Config{Listen: cfg.APIListen, KeyHash: cfg.APIKeyHash}, deps, logger.With("subsystem", "api"))
		if err := server.Start(); err != nil {
			return err
		}
	}

	if *autoStart && service.CanStart() {
		if err := service.Start(); err != nil {
			logger.Warn("Auto start failed", "error", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	supervise(sigChan, service, pick.Load, logger)

	if starlinkSource != nil {
		starlinkSource.Wait()
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API shutdown incomplete", "error", err)
		}
	}

	logger.Info("Graceful shutdown completed")
	return nil
}

// supervise handles signals until a shutdown signal arrives. SIGHUP reloads
// settings and restarts a running watcher. The watcher is stopped on every exit path.
func supervise(sigs <-chan os.Signal, service *watcher.Service, reload func(), logger *logx.Logger) {
	defer service.Stop()

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			// settings may have been edited behind our back
			logger.Info("Received SIGHUP, restarting watcher")
			reload()
			if err := service.Restart(); err != nil {
				logger.Error("Watcher restart failed", "error", err)
			}
			continue
		}
		logger.Info("Received shutdown signal", "signal", sig)
		return
	}
}

// buildSources routes provider kinds to the configured feeds. MQTT serves both
// kinds; the dish takes over its configured kind, and the network kind when MQTT is off.
func buildSources(cfg *uci.Config, client *mqtt.Client, logger *logx.Logger) (*gps.Router, *gps.StarlinkSource) {
	router := gps.NewRouter()

	if cfg.MQTT.Enabled {
		source := gps.NewMQTTSource(client, cfg.MQTT.TopicPrefix, logger)
		router.Route(pkg.ProviderNetwork, source)
		router.Route(pkg.ProviderGPS, source)
	}

	if !cfg.StarlinkEnabled {
		return router, nil
	}

	dish := starlink.NewClient(cfg.StarlinkHost, cfg.StarlinkPort, time.Duration(cfg.StarlinkTimeoutS)*time.Second, logger)
	source := gps.NewStarlinkSource(dish, time.Duration(cfg.StarlinkPollS)*time.Second, logger)
	router.Route(pkg.ProviderKind(cfg.StarlinkKind), source)
	if !router.Has(pkg.ProviderNetwork) {
		router.Route(pkg.ProviderNetwork, source)
	}
	return router, source
}
