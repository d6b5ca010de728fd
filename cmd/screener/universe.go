package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newUniverseCmd(opts *rootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "universe",
		Short: "Show the symbol universe and how it is batched",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := loadUniverse(opts.cfg.Pipeline)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			batches := u.Batches(opts.cfg.Pipeline.BatchSize)
			fmt.Fprintf(out, "%d symbols in %d batches of up to %d\n", u.Len(), len(batches), opts.cfg.Pipeline.BatchSize)
			if list {
				for i, b := range batches {
					fmt.Fprintf(out, "batch %d: %s\n", i+1, strings.Join(b, " "))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "print every batch")
	return cmd
}
