package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"github.com/spf13/cobra"
)

var detectImage string

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect a face and print everything the engine reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := startSession(cmd.Context(), cfg, detectImage)
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Println("Looking for a face...")
		det, err := waitForFace(cmd.Context(), cfg, s)
		if err != nil {
			return err
		}
		printDetection(os.Stdout, det)
		return nil
	},
}

func printDetection(w io.Writer, det *recognition.Detection) {
	fmt.Fprintf(w, "Face:        %dx%d at (%d,%d), score %.2f\n", det.Box.Width, det.Box.Height, det.Box.X, det.Box.Y, det.Score)
	if len(det.Landmarks) > 0 {
		fmt.Fprintf(w, "Landmarks:   %d points\n", len(det.Landmarks))
	}
	if det.Gender != "" {
		fmt.Fprintf(w, "Age:         %.0f\n", det.Age)
		fmt.Fprintf(w, "Gender:      %s (%.0f%%)\n", det.Gender, det.GenderProbability*100)
	}
	if name, p := det.Expressions.Dominant(); name != "" {
		fmt.Fprintf(w, "Expression:  %s (%.0f%%)\n", name, p*100)
	}

	head := make([]string, 4)
	for i := range head {
		head[i] = fmt.Sprintf("%.4f", det.Descriptor[i])
	}
	fmt.Fprintf(w, "Descriptor:  [%s ...] (%d values)\n", strings.Join(head, " "), recognition.DescriptorSize)
}

func init() {
	detectCmd.Flags().StringVar(&detectImage, "image", "", "Read a still image instead of the camera")
	rootCmd.AddCommand(detectCmd)
}
