package main

import (
	"os"

	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/imagepipe/cmd/imagepipe/ask"
	checkcmder "github.com/papercomputeco/imagepipe/cmd/imagepipe/check"
	servecmder "github.com/papercomputeco/imagepipe/cmd/imagepipe/serve"
)

const rootLongDesc string = `imagepipe routes chat turns through a model server.

Turns carrying images are transcribed by a vision model and the
transcription is interpreted by a general purpose model. Turns
without images go straight to the general purpose model.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "imagepipe",
		Short:        "Two-stage image to text pipeline",
		Long:         rootLongDesc,
		SilenceUsage: true,
	}

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(checkcmder.NewCheckCmd())
	cmd.AddCommand(askcmder.NewAskCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
