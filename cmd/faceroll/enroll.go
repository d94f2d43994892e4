package main

import (
	"fmt"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/roster"
	"github.com/spf13/cobra"
)

var (
	enrollImage   string
	enrollSamples int
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <label>",
	Short: "Capture face descriptors and add them to the roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := args[0]
		if err := roster.ValidateLabel(label); err != nil {
			return err
		}
		if enrollSamples < 1 {
			return fmt.Errorf("samples must be at least 1, got %d", enrollSamples)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return fmt.Errorf("failed to create directories: %w", err)
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		s, err := startSession(cmd.Context(), cfg, enrollImage)
		if err != nil {
			return err
		}
		defer s.Close()

		source := cfg.Camera.Device
		if enrollImage != "" {
			source = enrollImage
		}

		fmt.Printf("Enrolling '%s'. Please face the camera.\n", label)
		for i := 1; i <= enrollSamples; i++ {
			det, err := waitForFace(cmd.Context(), cfg, s)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			if err := store.Add(label, det.Descriptor, map[string]string{"source": source}); err != nil {
				return err
			}
			fmt.Printf("[%d/%d] captured (score %.2f)\n", i, enrollSamples, det.Score)

			if i < enrollSamples {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(time.Duration(cfg.Detection.PollIntervalMS) * time.Millisecond):
				}
			}
		}

		logging.Infof("Enrolled %s with %d sample(s)", label, enrollSamples)
		fmt.Printf("Enrollment for '%s' complete.\n", label)
		return nil
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollImage, "image", "", "Read a still image instead of the camera")
	enrollCmd.Flags().IntVar(&enrollSamples, "samples", 3, "Number of descriptors to capture")
	rootCmd.AddCommand(enrollCmd)
}
