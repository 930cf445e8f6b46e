package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/due/pkg/bus"
	"github.com/dotsetgreg/due/pkg/gateway"
)

// printAsync writes results of asynchronous actions as they arrive.
func printAsync(ctx context.Context, msgBus *bus.MessageBus, out io.Writer) {
	for {
		msg, ok := msgBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(out, "\n%s %s\n", appName, noticeStyle.Render(msg.Content))
	}
}

func interactiveMode(ctx context.Context, loop *gateway.Loop, msgBus *bus.MessageBus, sessionKey string) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".due_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(ctx, loop, msgBus, sessionKey, os.Stdin, os.Stdout)
		return
	}
	defer rl.Close()

	asyncCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go printAsync(asyncCtx, msgBus, rl.Stdout())

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleLine(ctx, loop, sessionKey, line, rl.Stdout()) {
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, loop *gateway.Loop, msgBus *bus.MessageBus, sessionKey string, in io.Reader, out io.Writer) {
	asyncCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go printAsync(asyncCtx, msgBus, out)

	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if strings.TrimSpace(line) != "" {
					handleLine(ctx, loop, sessionKey, line, out)
				}
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if !handleLine(ctx, loop, sessionKey, line, out) {
			return
		}
	}
}

// handleLine processes one console line and reports whether to keep going.
func handleLine(ctx context.Context, loop *gateway.Loop, sessionKey, line string, out io.Writer) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Fprintln(out, "Goodbye!")
		return false
	}

	response, err := loop.ProcessDirect(ctx, input, sessionKey)
	if err != nil {
		fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		return true
	}
	fmt.Fprintf(out, "\n%s %s\n\n", appName, replyStyle.Render(response))
	return true
}
