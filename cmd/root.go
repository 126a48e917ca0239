package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dChat/cmd/chat"
	"github.com/ValentinKolb/dChat/cmd/serve"
	"github.com/ValentinKolb/dChat/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dchat",
		Short: "replicated chat server",
		Long: fmt.Sprintf(`dChat (v%s)

A small chat backend written in Go. One primary serves all writes and
replicates every mutation to its followers, so any node can take over
with the full history.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dChat",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dChat v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(chat.ChatCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary, msgpack)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix, grpc)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
