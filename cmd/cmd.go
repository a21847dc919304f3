package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/bacnet"
	"github.com/anicoll/bacnet-integration/internal/pkg/config"
	"github.com/anicoll/bacnet-integration/internal/pkg/discovery"
	"github.com/anicoll/bacnet-integration/internal/pkg/foreign"
	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"github.com/anicoll/bacnet-integration/internal/pkg/mqtt"
	"github.com/anicoll/bacnet-integration/internal/pkg/poller"
	"github.com/anicoll/bacnet-integration/internal/pkg/publisher"
	"github.com/anicoll/bacnet-integration/internal/pkg/registry"
	"github.com/anicoll/bacnet-integration/internal/pkg/server"
	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GatewayCommand is the entry point for the gateway CLI command. It loads
// configuration, applies flag overrides and starts all services.
func GatewayCommand(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return err
	}

	if host := ctx.String("mqtt-host"); host != "" {
		cfg.MQTT.Broker = host
	}
	if user := ctx.String("mqtt-user"); user != "" {
		cfg.MQTT.Username = user
	}
	if pass := ctx.String("mqtt-pass"); pass != "" {
		cfg.MQTT.Password = pass
	}
	if interval := ctx.Duration("poll-interval"); interval > 0 {
		cfg.Polling.Interval = interval
	}
	if level := ctx.String("log-level"); level != "" {
		cfg.LogLevel = level
	}

	return run(ctx.Context, cfg)
}

func run(ctx context.Context, cfg *config.Config) error {
	var err error

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	logCfg := zap.NewProductionConfig()
	logCfg.Level, err = zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	devices := registry.NewDeviceRegistry(cfg.Devices.PersistenceFile)
	if err := devices.Load(); err != nil {
		return err
	}
	mappings := registry.NewMappingRegistry(cfg.Devices.MappingFile)
	if err := mappings.Load(); err != nil {
		return err
	}

	listen := fmt.Sprintf("%s:%d", cfg.BACnet.Address, cfg.BACnet.Port)
	transport, err := bacnet.NewTransport(ctx, cfg.BACnet.Transport, listen)
	if err != nil {
		return fmt.Errorf("cannot bind transport: %w", err)
	}

	engine := discovery.New(transport, devices, cfg.Polling.ReadTimeout)
	rw := poller.NewReaderWriter(transport, devices, cfg.Polling.ReadTimeout, cfg.Polling.UnitObjectTypes)

	// New devices get their objects enumerated straight away so the first
	// poll cycle has something to read.
	engine.OnDiscovered(func(ctx context.Context, device *model.Device) {
		logger.Info("device discovered",
			zap.Uint32("device_id", device.ID),
			zap.String("name", device.Name()),
			zap.String("address", device.Address()))
		if err := engine.DiscoverDeviceObjects(ctx, device); err != nil {
			logger.Error("object enumeration failed", zap.Uint32("device_id", device.ID), zap.Error(err))
		}
		if err := devices.Persist(); err != nil {
			logger.Error("failed to persist device registry", zap.Error(err))
		}
	})

	busClient := paho_mqtt.NewClient(mqtt.NewClientOptions(&cfg.MQTT))
	bus := mqtt.New(busClient, cfg.MQTT.QoS, cfg.MQTT.Retain)
	if err := bus.Connect(); err != nil {
		// The core bridge keeps polling regardless; publishing resumes when
		// the broker comes back.
		logger.Error("mqtt broker unavailable, continuing without publishing", zap.Error(err))
	}
	bridge := publisher.New(bus, devices, mappings, cfg.MQTT.TopicPrefix, cfg.MQTT.PublishInterval)

	if cfg.Polling.Enabled {
		scheduler := poller.NewScheduler(rw, devices, cfg.Polling.Interval, cfg.Polling.DeviceTimeout, cfg.Polling.Properties)
		eg.Go(func() error {
			scheduler.Start()
			<-ctx.Done()
			scheduler.Stop()
			return ctx.Err()
		})
	}

	eg.Go(func() error {
		bridge.Start()
		<-ctx.Done()
		bridge.Stop()
		return ctx.Err()
	})

	var registrar *foreign.Manager
	if cfg.BACnet.BBMD.Enabled {
		registrar = foreign.NewManager(transport, cfg.BACnet.BBMD.Relay(), cfg.BACnet.BBMD.TTL)
		eg.Go(func() error {
			if err := registrar.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			registrar.Stop(shutdownCtx)
			return ctx.Err()
		})
	}

	if cfg.Discovery.AutoDiscover {
		eg.Go(func() error {
			return periodicDiscovery(ctx, engine, cfg.Discovery)
		})
	}

	if cfg.API.Enabled {
		var apiRegistrar server.Registrar
		if registrar != nil {
			apiRegistrar = registrar
		}
		srv := &http.Server{
			Handler:      server.New(engine, rw, devices, mappings, apiRegistrar).Routes(),
			Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}
		eg.Go(func() error {
			logger.Info("control api listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = eg.Wait()
	if persistErr := devices.Persist(); persistErr != nil {
		logger.Error("failed to persist device registry on shutdown", zap.Error(persistErr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// periodicDiscovery runs an initial broadcast discovery and then re-runs it
// on the configured interval until the context ends. Discovery errors are
// logged and never stop the schedule.
func periodicDiscovery(ctx context.Context, engine *discovery.Engine, cfg config.DiscoveryConfig) error {
	logger := zap.L()
	runDiscovery := func() {
		if _, err := engine.Discover(ctx, nil, nil, cfg.WhoIsTimeout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("periodic discovery failed", zap.Error(err))
		}
	}
	runDiscovery()

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.Interval), runDiscovery); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	c.Run()
	return ctx.Err()
}
