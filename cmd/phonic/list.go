package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pipelined/phonic"
)

var kinds = map[string]phonic.Kind{
	"analyzer":  phonic.KindAnalyzer,
	"transform": phonic.KindTransform,
	"encoder":   phonic.KindEncoder,
	"grapher":   phonic.KindGrapher,
}

func newListCommand() *cobra.Command {
	var (
		kind   string
		params bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the list of available plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter []phonic.Kind
			if kind != "" {
				k, ok := kinds[kind]
				if !ok {
					return fmt.Errorf("unknown plugin kind %q", kind)
				}
				filter = append(filter, k)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			for _, p := range phonic.Plugins(filter...) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Kind, p.Version, p.Description)
				if !params {
					continue
				}
				for _, param := range p.Params {
					fmt.Fprintf(w, "\t-%s\t%v\t%s\n", param.Name, param.Default, param.Description)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "show only plugins of kind: analyzer, transform, encoder or grapher")
	cmd.Flags().BoolVarP(&params, "params", "p", false, "show plugin parameters")
	return cmd
}
