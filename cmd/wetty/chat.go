package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	wetty "github.com/wetty-chat/wetty-go"
)

var (
	chatsJSON bool

	chatsCreateDescription string
	chatsCreateVisibility  string

	messagesMax  int
	messagesAll  bool
	messagesJSON bool

	sendReplyTo string
	sendKind    string

	editBody string
)

func init() {
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.Flags().BoolVar(&chatsJSON, "json", false, "output raw JSON")
	chatsCmd.AddCommand(chatsCreateCmd)
	chatsCreateCmd.Flags().StringVar(&chatsCreateDescription, "description", "", "chat description")
	chatsCreateCmd.Flags().StringVar(&chatsCreateVisibility, "visibility", "private", "chat visibility")

	rootCmd.AddCommand(membersCmd)

	rootCmd.AddCommand(messagesCmd)
	messagesCmd.Flags().IntVar(&messagesMax, "max", 50, "page size")
	messagesCmd.Flags().BoolVar(&messagesAll, "all", false, "page backwards until the start of history")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "output raw JSON")

	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "id of the message being replied to")
	sendCmd.Flags().StringVar(&sendKind, "kind", "text", "message kind")

	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check backend availability",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Health(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		chats, err := client.ListChats(cmd.Context())
		if err != nil {
			return err
		}
		if chatsJSON {
			return printJSON(chats)
		}
		for _, c := range chats {
			fmt.Printf("%s\t%s\t(%s)\n", c.ID, c.Name, c.Visibility)
		}
		return nil
	},
}

var chatsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		opts := &wetty.CreateChatOptions{Name: args[0], Visibility: chatsCreateVisibility}
		if chatsCreateDescription != "" {
			opts.Description = &chatsCreateDescription
		}
		chat, err := client.CreateChat(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Printf("Created chat %s (%s)\n", chat.ID, chat.Name)
		return nil
	},
}

var membersCmd = &cobra.Command{
	Use:   "members <chat-id>",
	Short: "List the members of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		members, err := client.ListMembers(cmd.Context(), wetty.ID(args[0]))
		if err != nil {
			return err
		}
		for _, m := range members {
			fmt.Printf("%d\t%s\t%s\n", m.UID, m.Username, m.Role)
		}
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Show chat history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		chatID := wetty.ID(args[0])

		session := wetty.NewSession(client, wetty.WithPageSize(messagesMax))
		defer session.Close()

		if err := session.LoadInitial(cmd.Context(), chatID); err != nil {
			return err
		}
		if messagesAll {
			for {
				more, err := session.LoadOlder(cmd.Context(), chatID)
				if err != nil {
					return err
				}
				if !more {
					break
				}
			}
		}

		msgs := session.Messages(chatID)
		if messagesJSON {
			return printJSON(msgs)
		}
		for i := range msgs {
			printMessage(&msgs[i])
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>",
	Short: "Send a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		chatID := wetty.ID(args[0])

		session := wetty.NewSession(client)
		defer session.Close()

		opts := &wetty.SendOptions{Kind: sendKind}
		if sendReplyTo != "" {
			id := wetty.ID(sendReplyTo)
			opts.ReplyToID = &id
		}
		msg, err := session.Send(cmd.Context(), chatID, args[1], opts)
		if err != nil {
			return err
		}
		fmt.Printf("Sent message %s\n", msg.ID)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <chat-id> <message-id> <text>",
	Short: "Edit a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		msg, err := client.EditMessage(cmd.Context(), wetty.ID(args[0]), wetty.ID(args[1]), args[2])
		if err != nil {
			return err
		}
		fmt.Printf("Edited message %s\n", msg.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <chat-id> <message-id>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.DeleteMessage(cmd.Context(), wetty.ID(args[0]), wetty.ID(args[1])); err != nil {
			return err
		}
		fmt.Println("Deleted")
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <chat-id>",
	Short: "Stream a chat live",
	Long:  "Load the latest history page and keep printing new activity as it arrives over the push channel. Interrupt to stop.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		chatID := wetty.ID(args[0])

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session := wetty.NewSession(client)
		defer session.Close()

		events := make(chan wetty.ID, 64)
		session.Subscribe(wetty.Observer{
			OnConversationChanged: func(id wetty.ID) {
				if id == chatID {
					select {
					case events <- id:
					default:
					}
				}
			},
			OnConnectivityChanged: func(connected bool) {
				if connected {
					fmt.Fprintln(os.Stderr, "-- connected --")
				} else {
					fmt.Fprintln(os.Stderr, "-- connection lost, retrying --")
				}
			},
		})
		session.Start(ctx)

		if err := session.LoadInitial(ctx, chatID); err != nil {
			return err
		}

		msgs := session.Messages(chatID)
		for i := range msgs {
			printMessage(&msgs[i])
		}
		printed := len(msgs)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-events:
				msgs := session.Messages(chatID)
				for i := printed; i < len(msgs); i++ {
					printMessage(&msgs[i])
				}
				if len(msgs) > printed {
					printed = len(msgs)
				}
			}
		}
	},
}

func printMessage(m *wetty.Message) {
	body := "<no body>"
	switch {
	case m.Deleted():
		body = "<deleted>"
	case m.Body != nil:
		body = *m.Body
	}
	marker := ""
	if !m.Confirmed() {
		marker = " (sending)"
	}
	fmt.Printf("[%s] %d: %s%s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.SenderUID, body, marker)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
