package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/MrCodeEU/faceroll/pkg/roster"
	"github.com/spf13/cobra"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Inspect and edit the roster",
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled people",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		labels, err := store.List()
		if err != nil {
			return err
		}
		if len(labels) == 0 {
			fmt.Println("No one enrolled.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "LABEL\tSAMPLES\tENROLLED\tLAST SEEN")
		for _, label := range labels {
			p, err := store.Load(label)
			if err != nil {
				fmt.Fprintf(w, "%s\t-\t-\t%v\n", label, err)
				continue
			}
			lastSeen := "never"
			if !p.LastSeen.IsZero() {
				lastSeen = p.LastSeen.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.Label, len(p.Descriptors), p.EnrolledAt.Local().Format("2006-01-02 15:04"), lastSeen)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nTotal: %d\n", len(labels))
		return nil
	},
}

var rosterRemoveCmd = &cobra.Command{
	Use:   "remove <label>",
	Short: "Remove a person from the roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		if err := store.Delete(args[0]); err != nil {
			if errors.Is(err, roster.ErrPersonNotFound) {
				return fmt.Errorf("'%s' is not enrolled", args[0])
			}
			return err
		}
		fmt.Printf("Removed '%s'.\n", args[0])
		return nil
	},
}

func init() {
	rosterCmd.AddCommand(rosterListCmd, rosterRemoveCmd)
	rootCmd.AddCommand(rosterCmd)
}
