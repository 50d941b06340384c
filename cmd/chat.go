package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/persai/persai/internal/agent"
	"github.com/persai/persai/internal/client"
	"github.com/persai/persai/internal/dependency"
	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/shared/cmdutils"
	"github.com/persai/persai/internal/shared/llmutils"
)

var (
	chatMessage  string
	chatID       string
	chatServer   string
	chatProvider string
	chatModel    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant",
	Long: "Chat with the assistant. With --server the turn runs on a persai server " +
		"and is rendered from its event stream; otherwise it runs in-process.",
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send a single message and exit")
	chatCmd.Flags().StringVar(&chatID, "chat", "cli", "Conversation id")
	chatCmd.Flags().StringVarP(&chatServer, "server", "s", "", "Server URL, e.g. http://127.0.0.1:8080")
	chatCmd.Flags().StringVar(&chatProvider, "provider-id", "", "Stored provider id (server mode)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model id")
}

var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

// turnFunc sends one user message and prints what came back.
type turnFunc func(ctx context.Context, text string) error

func runChat(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var send turnFunc
	if chatServer != "" {
		send = remoteTurn()
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		container, err := dependency.New(cfg)
		if err != nil {
			return err
		}
		defer container.Close()

		res := container.Registry().Reload(ctx)
		fmt.Fprintf(os.Stderr, "  ↳ plugins: %s\n", res)
		send = localTurn(container.AgentLoop())
	}

	if chatMessage != "" {
		return send(ctx, chatMessage)
	}
	return runInteractive(ctx, send)
}

func runInteractive(ctx context.Context, send turnFunc) error {
	fmt.Printf("%s Interactive mode (type 'exit' or Ctrl+C to quit)\n\n", logo)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("You: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Println("\nGoodbye!")
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Println("\nGoodbye!")
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}
		if err := send(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

// localTurn runs turns in-process against the stored conversation.
func localTurn(loop *agent.AgentLoop) turnFunc {
	var opts []agent.TurnOption
	if chatModel != "" {
		opts = append(opts, agent.WithModel(nil, chatModel))
	}
	return func(ctx context.Context, text string) error {
		res, err := loop.Chat(ctx, chatID, text, progressSink{}, opts...)
		if err != nil {
			return err
		}
		cmdutils.PrintResponse(res.Text())
		return nil
	}
}

// remoteTurn posts turns to a server and renders the streamed answer.
func remoteTurn() turnFunc {
	var opts []client.Option
	if chatProvider != "" || chatModel != "" {
		opts = append(opts, client.WithModel(client.Model{ProviderID: chatProvider, ModelID: chatModel}))
	}
	chat := client.NewChat(chatServer, nil, opts...)
	return func(ctx context.Context, text string) error {
		seen := len(chat.Messages())
		err := chat.SendMessage(ctx, chatID, text)
		printMessages(chat.Messages()[seen:])
		return err
	}
}

func printMessages(msgs []schema.Message) {
	for _, m := range msgs {
		switch m.Role {
		case schema.RoleAssistant:
			cmdutils.PrintResponse(m.Text())
		case schema.RoleTool:
			for _, p := range m.Parts {
				fmt.Fprintf(os.Stderr, "  ↳ %s → %s\n", p.ToolName, llmutils.Truncate(string(p.Output), 120))
			}
		}
	}
}

// progressSink prints tool activity while a local turn runs.
type progressSink struct{}

func (progressSink) TextDelta(string) error { return nil }

func (progressSink) ToolInputStart(_, toolName string) error {
	fmt.Fprintf(os.Stderr, "  ↳ calling %s\n", toolName)
	return nil
}

func (progressSink) ToolOutputAvailable(_ string, output json.RawMessage) error {
	fmt.Fprintf(os.Stderr, "  ↳ %s\n", llmutils.Truncate(string(output), 120))
	return nil
}
