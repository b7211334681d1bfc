package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowlytics/capture-pipeline/clients"
	"github.com/rowlytics/capture-pipeline/features"
	"github.com/rowlytics/capture-pipeline/pose"
)

func newFeaturesCommand(ctx *commandContext) *cobra.Command {
	var displayFlag, videoFlag string

	cmd := &cobra.Command{
		Use:   "features <landmarks.json>",
		Short: "Compute the feature frame for a saved landmark set",
		Long: "Reads either a 33-entry landmark array or a detector reply " +
			"({\"landmarks\": [[...]]}) and prints every feature with its value.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			set, err := readLandmarks(args[0])
			if err != nil {
				return err
			}

			dw, dh := cfg.Display.Width, cfg.Display.Height
			if displayFlag != "" {
				if dw, dh, err = parseSize(displayFlag); err != nil {
					return fmt.Errorf("--display: %w", err)
				}
			}
			vw, vh, err := parseSize(videoFlag)
			if err != nil {
				return fmt.Errorf("--video: %w", err)
			}

			vp := features.Fit(vw, vh, dw, dh)
			frame := features.Extract(set, vp, features.Options{VisibilityThreshold: cfg.Features.VisibilityThreshold})
			framed := pose.IsFullyFramed(set, pose.QualifierOptions{
				VisibilityThreshold: cfg.Gating.VisibilityThreshold,
				EdgeMargin:          cfg.Gating.EdgeMargin,
			})

			rows := make([][]string, 0, len(frame.Header)+1)
			rows = append(rows, []string{"fully_framed", fmt.Sprint(framed)})
			for i, name := range frame.Header {
				rows = append(rows, []string{name, frame.Data[i].String()})
			}
			return writeTable(cmd.OutOrStdout(), []string{"feature", "value"}, rows)
		},
	}
	cmd.Flags().StringVar(&displayFlag, "display", "", "Display size WxH (default from config)")
	cmd.Flags().StringVar(&videoFlag, "video", "640x480", "Source video size WxH")
	return cmd
}

func readLandmarks(path string) (*pose.LandmarkSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read landmarks: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var det clients.Detection
		if err := json.Unmarshal(data, &det); err != nil {
			return nil, fmt.Errorf("decode detector reply: %w", err)
		}
		return det.First(), nil
	}
	var set pose.LandmarkSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode landmarks: %w", err)
	}
	return &set, nil
}

func parseSize(s string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("want WxH, got %q", s)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size must be positive, got %q", s)
	}
	return w, h, nil
}
