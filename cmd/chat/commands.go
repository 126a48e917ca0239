package chat

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	chatlib "github.com/ValentinKolb/dChat/lib/chat"
	"github.com/spf13/cobra"
)

var (
	registerCmd = &cobra.Command{
		Use:   "register [username] [password]",
		Short: "Creates a new account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcChat.CreateAccount(args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("Account created")
			return nil
		},
	}
	loginCmd = &cobra.Command{
		Use:   "login [username] [password]",
		Short: "Checks the credentials and prints the number of unread messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			unread, err := rpcChat.Login(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Login successful. Unread messages: %d\n", unread)
			return nil
		},
	}
	logoffCmd = &cobra.Command{
		Use:   "logoff [username]",
		Short: "Ends the live subscription of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcChat.LogOff(args[0]); err != nil {
				return err
			}
			fmt.Println("User logged off")
			return nil
		},
	}
	unregisterCmd = &cobra.Command{
		Use:   "unregister [username]",
		Short: "Deletes an account and all conversations it takes part in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcChat.DeleteAccount(args[0]); err != nil {
				return err
			}
			fmt.Println("Account and all conversation history deleted")
			return nil
		},
	}
	sendCmd = &cobra.Command{
		Use:   "send [sender] [recipient] [message...]",
		Short: "Sends a message",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := rpcChat.SendMessage(args[0], args[1], strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("Message sent (id=%d)\n", id)
			return nil
		},
	}
	readCmd = &cobra.Command{
		Use:   "read [username] [limit]",
		Short: "Reads and removes unread messages from the mailbox (all if no limit is given)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := 0
			if len(args) == 2 {
				var err error
				if limit, err = strconv.Atoi(args[1]); err != nil {
					return fmt.Errorf("limit must be a number: %w", err)
				}
			}
			msgs, err := rpcChat.ReadMessages(args[0], limit)
			if err != nil {
				return err
			}
			printMessages(msgs, "No unread messages")
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [username] [id...]",
		Short: "Deletes messages from the mailbox and all conversations of a user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uint64, 0, len(args)-1)
			for _, arg := range args[1:] {
				id, err := strconv.ParseUint(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("message id must be a number: %w", err)
				}
				ids = append(ids, id)
			}
			if err := rpcChat.DeleteMessages(args[0], ids); err != nil {
				return err
			}
			fmt.Println("Specified messages deleted")
			return nil
		},
	}
	viewCmd = &cobra.Command{
		Use:   "view [username] [other]",
		Short: "Shows the conversation between two users",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := rpcChat.ViewConversation(args[0], args[1])
			if err != nil {
				return err
			}
			printMessages(msgs, "No messages")
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [username] [pattern]",
		Short: "Lists accounts matching a wildcard pattern (default '*')",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 2 {
				pattern = args[1]
			}
			names, err := rpcChat.ListAccounts(args[0], pattern)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
	subscribeCmd = &cobra.Command{
		Use:   "subscribe [username]",
		Short: "Prints messages pushed to a user until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Listening for messages to %s (ctrl-c to stop)\n", args[0])
			err := rpcChat.Subscribe(ctx, args[0], func(msg chatlib.Message) error {
				printMessage(msg)
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				fmt.Println("Subscription ended by the server")
			}
			return err
		},
	}
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func printMessage(msg chatlib.Message) {
	fmt.Printf("[%d] %s %s: %s\n", msg.ID, msg.Timestamp, msg.Sender, msg.Content)
}

func printMessages(msgs []chatlib.Message, empty string) {
	if len(msgs) == 0 {
		fmt.Println(empty)
		return
	}
	for _, msg := range msgs {
		printMessage(msg)
	}
}
