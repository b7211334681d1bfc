package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rowlytics/capture-pipeline/artifact"
	"github.com/rowlytics/capture-pipeline/camera"
	"github.com/rowlytics/capture-pipeline/capture"
	"github.com/rowlytics/capture-pipeline/clients"
	"github.com/rowlytics/capture-pipeline/config"
	"github.com/rowlytics/capture-pipeline/features"
	"github.com/rowlytics/capture-pipeline/logging"
	"github.com/rowlytics/capture-pipeline/orchestrator"
	"github.com/rowlytics/capture-pipeline/pose"
	"github.com/rowlytics/capture-pipeline/spool"
	"github.com/rowlytics/capture-pipeline/status"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var device, user string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a capture session until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if device = strings.TrimSpace(device); device != "" {
				cfg.Camera.Device = device
			}
			if user = strings.TrimSpace(user); user != "" {
				cfg.User.ID = user
			}

			logger, err := logging.New(logging.Options{Level: cfg.Pipeline.LogLvl, Format: cfg.Pipeline.LogFormat})
			if err != nil {
				return err
			}
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runSession(signalCtx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "Camera device (overrides camera.device)")
	cmd.Flags().StringVar(&user, "user", "", "User id artifacts are filed under (overrides user.id)")
	return cmd
}

func openSink(cfg *config.Root) (artifact.Sink, func() error, error) {
	switch cfg.Sink.Mode {
	case "spool":
		store, err := spool.Open(cfg.Sink.SpoolPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		h := clients.NewHTTP(config.Millis(cfg.Services.API.TimeoutMs))
		return clients.NewAPIClient(h, cfg.Services.API.URL), func() error { return nil }, nil
	}
}

func runSession(ctx context.Context, cfg *config.Root, logger *logrus.Logger) error {
	sink, closeSink, err := openSink(cfg)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer closeSink()

	pubs := []status.Publisher{status.LogPublisher{Log: logger}}
	if cfg.Services.MQTT.Broker != "" {
		mq := status.NewMQTTPublisher(status.MQTTOptions{
			Broker:   cfg.Services.MQTT.Broker,
			ClientID: cfg.Services.MQTT.ClientID,
			Topic:    cfg.Services.MQTT.Topic,
			QoS:      byte(cfg.Services.MQTT.QoS),
		}, logger)
		if err := mq.Connect(ctx); err != nil {
			logger.WithError(err).Warn("status broker unavailable, continuing without it")
		} else {
			defer mq.Close()
			pubs = append(pubs, mq)
		}
	}

	detector := clients.NewPoseClient(clients.NewHTTP(config.Millis(cfg.Services.Pose.TimeoutMs)), cfg.Services.Pose.URL)
	opener := camera.ReplayOpener{
		LockDir:  cfg.Camera.LockDir,
		FPS:      cfg.Camera.FPS,
		Loop:     cfg.Camera.Loop,
		Realtime: cfg.Camera.Realtime,
	}

	session, err := orchestrator.Open(ctx, orchestrator.Options{
		UserID:        cfg.User.ID,
		Device:        cfg.Camera.Device,
		DisplayWidth:  cfg.Display.Width,
		DisplayHeight: cfg.Display.Height,
		Qualifier: pose.QualifierOptions{
			VisibilityThreshold: cfg.Gating.VisibilityThreshold,
			EdgeMargin:          cfg.Gating.EdgeMargin,
		},
		Features: features.Options{VisibilityThreshold: cfg.Features.VisibilityThreshold},
		Timing: capture.Timing{
			InFrameThreshold: config.Millis(cfg.Gating.InFrameThresholdMs),
			Cooldown:         config.Millis(cfg.Gating.CooldownMs),
			ClipDuration:     config.Millis(cfg.Gating.ClipDurationMs),
		},
		UploadFeatures: cfg.Features.Upload,
		MaxClipBytes:   cfg.Camera.MaxClipBytes,
		OutputsDir:     cfg.Paths.Outputs,
		DrainTimeout:   10 * time.Second,
		Logger:         logger,
		Publishers:     pubs,
	}, orchestrator.Deps{Camera: opener, Detector: detector, Sink: sink})
	if err != nil {
		return err
	}

	runErr := session.Run(ctx)
	closeErr := session.Close()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, closeErr)
}
