// Command pairload drives load against a pairchat server.
//
//   - saturate: open N idle connections and hold them
//   - chat:     pair clients up and exchange timed chat messages
//
// Usage:
//
//	pairload <command> [options]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dudedude/pairchat/internal/loadtest"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: pairload <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    open N idle connections and hold them")
	fmt.Println("  chat        pair clients and exchange timed chat messages")
	fmt.Println()
	fmt.Println("Run 'pairload <command> -h' for command-specific options.")
}

// connectAll opens n clients with at most concurrency handshakes in flight.
// setup registers handlers on each client before it starts reading.
func connectAll(ctx context.Context, url string, n, concurrency int, collector *loadtest.Collector, setup func(i int, c *loadtest.Client)) []*loadtest.Client {
	clients := make([]*loadtest.Client, n)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return clients
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			c, err := loadtest.Dial(dialCtx, url)
			if err != nil {
				collector.AddError()
				return
			}
			if setup != nil {
				setup(i, c)
			}
			c.Start()
			if err := c.WaitForSession(dialCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			collector.AddConnect(c.ConnectLatency())
			clients[i] = c
		}(i)
	}
	wg.Wait()
	return clients
}

func closeAll(clients []*loadtest.Client) {
	for _, c := range clients {
		if c != nil {
			c.Close()
		}
	}
}

func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:3000/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (hold=%s, concurrency=%d)\n",
		*connections, *url, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadtest.NewCollector()
	clients := connectAll(ctx, *url, *connections, *concurrency, collector, nil)
	defer closeAll(clients)

	fmt.Printf("Opened %d connections, holding for %s\n", collector.ConnectionCount(), *hold)

	var dropped atomic.Int64
	for _, c := range clients {
		if c == nil {
			continue
		}
		go func(c *loadtest.Client) {
			<-c.Done()
			if c.Err() != nil {
				dropped.Add(1)
			}
		}(c)
	}

	select {
	case <-ctx.Done():
	case <-time.After(*hold):
	}

	fmt.Printf("Dropped during hold: %d\n", dropped.Load())
	collector.Report(os.Stdout)
}

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:3000/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 100, "Number of pairs")
	messages := fs.Int("messages", 10, "Chat messages sent by each initiator")
	interval := fs.Duration("interval", 600*time.Millisecond, "Delay between chat messages")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts")
	timeout := fs.Duration("timeout", 2*time.Minute, "Overall test timeout")
	fs.Parse(args)

	fmt.Printf("Chat test: %d pairs, %d messages each, interval %s, against %s\n",
		*pairs, *messages, *interval, *url)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	collector := loadtest.NewCollector()
	var finished sync.WaitGroup
	finished.Add(*pairs)

	setup := func(_ int, c *loadtest.Client) {
		c.On(loadtest.TypeMatched, func(raw json.RawMessage) {
			collector.AddMatch()
			var m struct {
				Initiator bool `json:"initiator"`
			}
			if err := json.Unmarshal(raw, &m); err != nil || !m.Initiator {
				return
			}
			go sendTimed(ctx, c, *messages, *interval, collector, finished.Done)
		})
		c.On(loadtest.TypeChatMessage, func(raw json.RawMessage) {
			var m struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(raw, &m); err != nil {
				return
			}
			if ns, err := strconv.ParseInt(m.Text, 10, 64); err == nil {
				collector.AddMsgLatency(time.Since(time.Unix(0, ns)))
			}
		})
		c.On(loadtest.TypeRateLimited, func(json.RawMessage) { collector.AddRateLimited() })
		c.On(loadtest.TypeError, func(json.RawMessage) { collector.AddError() })
	}

	clients := connectAll(ctx, *url, 2*(*pairs), *concurrency, collector, setup)
	defer closeAll(clients)

	for _, c := range clients {
		if c == nil {
			continue
		}
		if err := c.Send("start_search", map[string]interface{}{"name": "load"}); err != nil {
			collector.AddError()
		}
	}

	done := make(chan struct{})
	go func() {
		finished.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		fmt.Println("Timed out before every pair finished")
	}

	collector.Report(os.Stdout)
}

// sendTimed sends n chat messages carrying their send time, then stops.
func sendTimed(ctx context.Context, c *loadtest.Client, n int, interval time.Duration, collector *loadtest.Collector, done func()) {
	defer done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		text := strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := c.Send("chat_message", map[string]interface{}{"text": text}); err != nil {
			collector.AddError()
			return
		}
	}
	_ = c.Send("stop", nil)
}
