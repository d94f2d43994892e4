package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/MrCodeEU/faceroll/pkg/models"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage face model files",
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download [dir]",
	Short: "Download every model file from its upstream source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Models.Dir
		if len(args) > 0 {
			dir = args[0]
		}
		fmt.Printf("Downloading models to %s\n", dir)
		if err := models.Download(cmd.Context(), dir, models.Manifest(), os.Stderr); err != nil {
			return err
		}
		fmt.Println("All models present.")
		return nil
	},
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List model artifacts and whether their files are present",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.ModelDir()
		manifest := models.Manifest()
		missing := make(map[string]bool)
		for _, name := range models.Missing(dir, manifest) {
			missing[name] = true
		}

		fmt.Printf("Model directory: %s\n\n", dir)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ARTIFACT\tROLE\tFILES\tSTATUS")
		for _, a := range manifest {
			var names []string
			status := "ok"
			for _, f := range a.Files {
				names = append(names, f.Name)
				if missing[f.Name] {
					status = "missing"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.Role, strings.Join(names, ", "), status)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(missing) > 0 {
			fmt.Printf("\n%d file(s) missing. Run 'faceroll models download %s'.\n", len(missing), filepath.Clean(dir))
		}
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsDownloadCmd, modelsListCmd)
	rootCmd.AddCommand(modelsCmd)
}
