package console

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/hamlink/js8relay/cmd/js8relay/internal"
	"github.com/hamlink/js8relay/pkg/js8call"
)

// NewConsoleCommand returns an interactive console on the JS8Call API,
// useful for checking the station link without the mesh side running.
func NewConsoleCommand() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive console on the JS8Call API",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return consoleCmd(host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "JS8Call host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "JS8Call port (default from config)")

	return cmd
}

func consoleCmd(host string, port int) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if host == "" {
		host = cfg.JS8Call.Host
	}
	if port == 0 {
		port = cfg.JS8Call.Port
	}

	client := js8call.NewClient(js8call.Options{Host: host, Port: port})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("Connected to %s. Type 'DEST text' to transmit, /ping, /callsign or /quit.\n", client.Addr())

	go printEvents(client)

	rl, err := readline.New("js8> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on Ctrl-D, readline.ErrInterrupt on Ctrl-C
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/ping":
			err = client.Send(js8call.PingCommand())
		case line == "/callsign":
			err = client.Send(js8call.GetCallsignCommand())
		default:
			dest, text, ok := strings.Cut(line, " ")
			if !ok || strings.TrimSpace(text) == "" {
				fmt.Println("usage: DEST text")
				continue
			}
			err = client.Send(js8call.SendMessageCommand(dest, strings.TrimSpace(text)))
		}
		if err != nil {
			fmt.Printf("send failed: %v\n", err)
		}
	}
}

func printEvents(client *js8call.Client) {
	for ev := range client.Events() {
		switch {
		case ev.IsUserMessage():
			fmt.Printf("\r< %s -> %s: %s\n", ev.From(), ev.To(), ev.Text())
		case ev.Value != "":
			fmt.Printf("\r< [%s] %s\n", ev.Raw, ev.Value)
		default:
			fmt.Printf("\r< [%s]\n", ev.Raw)
		}
	}
}
