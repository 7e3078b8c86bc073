package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newClassesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List registered command classes and their commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, c := range a.registry.All() {
				fmt.Fprintf(tw, "0x%02X\t%s\tv%d\t\t\n", c.ID, c.Name, c.ImplementedVersion)
				for _, d := range c.Commands {
					dir := ""
					switch {
					case d.CanDecode() && d.CanEncode():
						dir = "in/out"
					case d.CanDecode():
						dir = "in"
					case d.CanEncode():
						dir = "out"
					}
					resp := ""
					if d.ExpectedResponse != nil {
						if r := c.FindCommand(*d.ExpectedResponse); r != nil {
							resp = "-> " + r.Name
						}
					}
					fmt.Fprintf(tw, "  0x%02X\t%s\t%s\t%s\t\n", d.ID, d.Name, dir, resp)
				}
			}
			return tw.Flush()
		},
	}
}
