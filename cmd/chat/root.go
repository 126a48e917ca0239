package chat

import (
	"github.com/ValentinKolb/dChat/cmd/util"
	"github.com/ValentinKolb/dChat/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcChat client.IChatClient

	// ChatCommands represents the chat command group
	ChatCommands = &cobra.Command{
		Use:                "chat",
		Short:              "Perform chat operations against a dChat node",
		PersistentPreRunE:  setupChatClient,
		PersistentPostRunE: closeChatClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(ChatCommands)

	ChatCommands.AddCommand(registerCmd)
	ChatCommands.AddCommand(loginCmd)
	ChatCommands.AddCommand(logoffCmd)
	ChatCommands.AddCommand(unregisterCmd)
	ChatCommands.AddCommand(sendCmd)
	ChatCommands.AddCommand(readCmd)
	ChatCommands.AddCommand(deleteCmd)
	ChatCommands.AddCommand(viewCmd)
	ChatCommands.AddCommand(listCmd)
	ChatCommands.AddCommand(subscribeCmd)
	ChatCommands.AddCommand(perfTestCmd)
}

// setupChatClient initializes the RPC chat client
func setupChatClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	rpcChat, err = client.NewRPCChatClient(*config, t, s)
	return err
}

func closeChatClient(_ *cobra.Command, _ []string) error {
	if rpcChat == nil {
		return nil
	}
	return rpcChat.Close()
}
