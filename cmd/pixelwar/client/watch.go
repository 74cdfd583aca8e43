package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doriantessier/pixel-war/pkg/api"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print every change pushed by the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		return c.Watch(ctx, func(d api.DeltaResponse) error {
			for _, ch := range d.Deltas {
				fmt.Fprintf(out, "%d %d %s\n", ch.X, ch.Y, ch.Color)
			}
			return nil
		})
	},
}
