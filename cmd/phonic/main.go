// Command phonic lists available plugins and runs analysis jobs.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/pipelined/phonic/analyzer/level"
	_ "github.com/pipelined/phonic/analyzer/spectrum"
	_ "github.com/pipelined/phonic/ffmpeg"
	_ "github.com/pipelined/phonic/grapher/waveform"
	_ "github.com/pipelined/phonic/mp3"
	_ "github.com/pipelined/phonic/opus"
	_ "github.com/pipelined/phonic/wav"
)

const (
	successExitCode = 0
	errorExitCode   = 1
)

func newRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "phonic",
		Short:         "Phonic decodes audio and runs it through analyzers, graphers and encoders",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.AddCommand(newListCommand(), newRunCommand())
	return root
}

func main() {
	root := newRootCommand(os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
		os.Exit(errorExitCode)
	}
	os.Exit(successExitCode)
}
