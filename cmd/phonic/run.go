package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pipelined/phonic/config"
	"github.com/pipelined/phonic/log"
	"github.com/pipelined/phonic/store"
)

func newRunCommand() *cobra.Command {
	var results string
	cmd := &cobra.Command{
		Use:   "run <job.yaml>",
		Short: "Run the job and save its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if results != "" {
				job.Results = results
			}
			logger := log.GetLogger()
			logger.SetLevel(job.Level())
			logger.SetOutput(cmd.ErrOrStderr())

			p, err := job.Build(logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := p.Run(ctx); err != nil {
				return err
			}
			logger.WithField("pipe", p.String()).Infof("%d results", p.Results().Len())
			if job.Results == "" {
				return store.Write(cmd.OutOrStdout(), p.Results())
			}
			return store.SaveFile(job.Results, p.Results())
		},
	}
	cmd.Flags().StringVarP(&results, "results", "r", "", "file to save results to, results are printed if empty")
	return cmd
}
