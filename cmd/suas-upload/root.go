package main

import (
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
)

func newRootCmd(logger log.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "suas-upload",
		Short: "PIN-gated uploader for service records",
		Long: `suas-upload authenticates an operator with a shared PIN, collects the
service member's metadata and uploads files to object storage through signed
upload URLs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newUploadCmd(logger), newSignerCmd(logger))
	return rootCmd
}
