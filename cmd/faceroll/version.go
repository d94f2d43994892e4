package main

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/MrCodeEU/faceroll/pkg/acceleration"
	"github.com/spf13/cobra"
)

var showBackends bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("faceroll %s\n", version)
		fmt.Printf("  Commit:   %s\n", commitSHA)
		fmt.Printf("  Go:       %s\n", runtime.Version())
		fmt.Printf("  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)

		if !showBackends {
			return
		}
		mgr := accelerationManager(cfg)
		backends := mgr.GetAllBackends()
		names := make([]string, 0, len(backends))
		for b := range backends {
			names = append(names, string(b))
		}
		sort.Strings(names)

		fmt.Println("\nAcceleration backends:")
		for _, name := range names {
			info := backends[acceleration.Backend(name)]
			marker := " "
			if info.Backend == mgr.GetActiveBackend() {
				marker = "*"
			}
			fmt.Printf(" %s %-9s %s\n", marker, info.Name, info.DeviceName)
		}
	},
}

func init() {
	versionCmd.Flags().BoolVar(&showBackends, "backends", false, "Detect and list acceleration backends")
	rootCmd.AddCommand(versionCmd)
}
