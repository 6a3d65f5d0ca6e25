// busping issues a single method call over a bus connection and prints the
// reply. Without --url it answers itself over an in-process loopback, which
// makes it a quick smoke test of the call/reply machinery; with --url it
// talks to a RabbitMQ broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcristau/busfutures"
	"github.com/jcristau/busfutures/contracts"
	"github.com/jcristau/busfutures/transports/inproc"
)

func main() {
	var (
		url     string
		dest    string
		path    string
		iface   string
		member  string
		body    string
		timeout time.Duration
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:   "busping",
		Short: "Send one method call and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := connect(ctx, url, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			if name, ok := client.LocalIdentity(); ok {
				logger.Info("connected", "identity", name)
			}

			future := client.Target(dest, path).Call(iface, member, func(msg *contracts.Message) {
				if body != "" {
					if err := msg.SetBody(body); err != nil {
						logger.Error("encode body", "error", err)
					}
				}
			})

			start := time.Now()
			reply, err := future.Await(ctx)
			if err != nil {
				return fmt.Errorf("call %s.%s: %w", iface, member, err)
			}

			var text string
			if len(reply.Body) > 0 {
				if err := reply.UnmarshalBody(&text); err != nil {
					text = string(reply.Body)
				}
			}
			fmt.Printf("reply serial=%d rtt=%v body=%q\n", reply.ReplySerial, time.Since(start).Round(time.Microsecond), text)
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&url, "url", "u", "", "RabbitMQ connection URL; empty for in-process loopback")
	rootCmd.Flags().StringVar(&dest, "dest", "busfutures.echo", "destination bus name")
	rootCmd.Flags().StringVar(&path, "path", "/echo", "object path")
	rootCmd.Flags().StringVar(&iface, "interface", "busfutures.Echo", "interface name")
	rootCmd.Flags().StringVar(&member, "member", "Ping", "member to call")
	rootCmd.Flags().StringVar(&body, "body", "ping", "call body string")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall timeout")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context, url string, logger *slog.Logger) (*busfutures.Client, error) {
	if url == "" {
		transport := inproc.New(echoHandler, inproc.WithLogger(logger))
		return busfutures.New(transport, busfutures.WithLogger(logger)), nil
	}
	return busfutures.Dial(ctx, url, busfutures.WithLogger(logger))
}

func echoHandler(call *contracts.Message) *contracts.Message {
	if call.Member != "Ping" {
		return contracts.NewError(call, contracts.ErrorNameUnknownMethod, "only Ping is served")
	}
	reply := contracts.NewMethodReturn(call)
	reply.Body = call.Body
	return reply
}
