package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dagflow/nodes"
)

func newNodesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List registered nodes and variant groups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mods := c.modules()
			if _, err := nodes.Build(mods...); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODULE\tDEPENDENCIES\tWHEN")
			for _, mod := range mods {
				for _, n := range mod.Nodes {
					when := ""
					if n.When != nil {
						when = n.When.String()
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.Name, mod.Name, strings.Join(n.DependencyNames(), ","), when)
				}
			}
			return w.Flush()
		},
	}
}
