package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/matcher"
	"github.com/spf13/cobra"
)

var (
	matchImage  string
	matchRoster string
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match the face in front of the camera against the roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := loadRoster(matchRoster)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return errors.New("roster is empty; enroll someone first")
		}

		s, err := startSession(cmd.Context(), cfg, matchImage)
		if err != nil {
			return err
		}
		defer s.Close()

		m, err := s.CreateFaceMatcher(records)
		if err != nil {
			return err
		}

		fmt.Println("Looking for a face...")
		det, err := waitForFace(cmd.Context(), cfg, s)
		if err != nil {
			return err
		}

		result := m.FindBestMatch(det.Descriptor)
		fmt.Println(result)
		if result.IsUnknown() {
			return nil
		}

		if matchRoster == "" {
			if store, err := openStore(cfg); err == nil {
				if err := store.Touch(result.Label); err != nil {
					logging.Warnf("Failed to update last seen for %s: %v", result.Label, err)
				}
			}
		}
		return nil
	},
}

// loadRoster reads a JSON roster file, or the roster store when path is empty.
func loadRoster(path string) ([]matcher.PersonRecord, error) {
	if path == "" {
		store, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		return store.Roster()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	var records []matcher.PersonRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse roster %s: %w", path, err)
	}
	return records, nil
}

func init() {
	matchCmd.Flags().StringVar(&matchImage, "image", "", "Read a still image instead of the camera")
	matchCmd.Flags().StringVar(&matchRoster, "roster", "", "JSON roster file ([{\"label\":..., \"descriptor\":[...]}])")
	rootCmd.AddCommand(matchCmd)
}
