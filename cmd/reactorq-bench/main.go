// Command reactorq-bench drives one of reactorq's four messaging
// patterns (pubsub, reqrep, mux, rpc) as either the listening or the
// dialing side, so the public API can be exercised end-to-end from a
// shell without writing a throwaway program each time.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/reactorq/reactorq/executor"
	"github.com/reactorq/reactorq/mux"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/pubsub"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/reqrep"
	"github.com/reactorq/reactorq/rpc"
	"github.com/reactorq/reactorq/socket"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	app := cli.NewApp()
	app.Name = "reactorq-bench"
	app.Usage = "exercise a reactorq messaging pattern from the command line"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "pattern",
			Value: "pubsub",
			Usage: "pubsub, reqrep, mux, or rpc",
		},
		cli.StringFlag{
			Name:  "role",
			Value: "server",
			Usage: "server (listen) or client (connect)",
		},
		cli.StringFlag{
			Name:  "addr",
			Value: "tcp://127.0.0.1:7700",
			Usage: `endpoint, eg "tcp://127.0.0.1:7700" or "unix:///tmp/reactorq.sock"`,
		},
		cli.IntFlag{
			Name:  "count",
			Value: 1000,
			Usage: "client mode: number of messages/requests to send",
		},
		cli.IntFlag{
			Name:  "payload",
			Value: 64,
			Usage: "client mode: payload size in bytes",
		},
		cli.IntFlag{
			Name:  "workers",
			Value: 0,
			Usage: "rpc/mux server mode: offload handlers to a thread pool of this size, 0 = inline on the loop",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: 5 * time.Second,
			Usage: "client mode: per-request timeout for mux/rpc",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	remote, err := netutil.Parse(c.String("addr"))
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}

	loop, err := reactor.New()
	if err != nil {
		return fmt.Errorf("new event loop: %w", err)
	}
	go loop.Run()
	defer loop.Close()
	defer loop.Stop()

	isServer := c.String("role") == "server"
	var pool executor.Executor
	if isServer && c.Int("workers") > 0 {
		tp := executor.NewThreadPool(c.Int("workers"), 256)
		defer tp.Stop()
		pool = tp
	}

	switch c.String("pattern") {
	case "pubsub":
		if isServer {
			return runPubsubServer(loop, remote)
		}
		return runPubsubClient(loop, remote, c.Int("count"), c.Int("payload"))
	case "reqrep":
		if isServer {
			return runReqrepServer(loop, remote)
		}
		return runReqrepClient(loop, remote, c.Int("count"), c.Int("payload"), c.Duration("timeout"))
	case "mux":
		if isServer {
			return runMuxServer(loop, remote, pool)
		}
		return runMuxClient(loop, remote, c.Int("count"), c.Int("payload"), c.Duration("timeout"))
	case "rpc":
		if isServer {
			return runRPCServer(loop, remote, pool)
		}
		return runRPCClient(loop, remote, c.Int("count"), c.Int("payload"), c.Duration("timeout"))
	default:
		return fmt.Errorf("unknown pattern %q", c.String("pattern"))
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}

func runPubsubServer(loop *reactor.EventLoop, local netutil.Endpoint) error {
	pub := pubsub.NewPublisher(loop, socket.DefaultConfig(), 0, 0)
	if err := pub.Open(local); err != nil {
		return err
	}
	defer pub.Close()
	color.Green("publisher listening on %s", local)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	for {
		select {
		case <-ticker.C:
			pub.Send(payloadOf(16))
		case <-ch:
			return nil
		}
	}
}

func runPubsubClient(loop *reactor.EventLoop, remote netutil.Endpoint, count, payloadSize int) error {
	sub := pubsub.NewSubscriber(loop, socket.DefaultConfig(), 0, 0)
	var received int64
	sub.OnTopic(nil, func(message []byte) { atomic.AddInt64(&received, 1) })
	if err := sub.Connect(remote); err != nil {
		return err
	}
	defer sub.Close()

	deadline := time.After(time.Duration(count) * 50 * time.Millisecond)
	<-deadline
	color.Cyan("received %d messages", atomic.LoadInt64(&received))
	return nil
}

func runReqrepServer(loop *reactor.EventLoop, local netutil.Endpoint) error {
	rep := reqrep.NewReplier(loop, socket.DefaultConfig(), 0, func(request []byte, p *reqrep.Promise) {
		p.Complete(request)
	})
	if err := rep.Open(local); err != nil {
		return err
	}
	defer rep.Close()
	color.Green("echo replier listening on %s", local)
	waitForSignal()
	return nil
}

func runReqrepClient(loop *reactor.EventLoop, remote netutil.Endpoint, count, payloadSize int, timeout time.Duration) error {
	req := reqrep.NewRequester(loop, socket.DefaultConfig(), 0, 0)
	defer req.Close()
	if err := req.Open(remote); err != nil {
		return err
	}
	if err := req.WaitForConnected(timeout); err != nil {
		return err
	}

	replies := make(chan []byte, 1)
	req.OnRecv(func(message []byte) { replies <- message })

	payload := payloadOf(payloadSize)
	start := time.Now()
	for i := 0; i < count; i++ {
		if err := req.Send(payload); err != nil {
			return err
		}
		select {
		case <-replies:
		case <-time.After(timeout):
			return fmt.Errorf("reply %d: timed out", i)
		}
	}
	elapsed := time.Since(start)
	color.Cyan("%d round trips in %s (%.0f/s)", count, elapsed, float64(count)/elapsed.Seconds())
	return nil
}

func runMuxServer(loop *reactor.EventLoop, local netutil.Endpoint, pool executor.Executor) error {
	rep := mux.NewMultiplexingReplier(loop, socket.DefaultConfig(), 0, func(request []byte, complete func(reply []byte)) {
		if pool != nil {
			pool.Post(func() { complete(request) })
			return
		}
		complete(request)
	})
	if err := rep.Open(local); err != nil {
		return err
	}
	defer rep.Close()
	color.Green("mux replier listening on %s", local)
	waitForSignal()
	return nil
}

func runMuxClient(loop *reactor.EventLoop, remote netutil.Endpoint, count, payloadSize int, timeout time.Duration) error {
	req := mux.NewMultiplexingRequester(loop, socket.DefaultConfig(), 0, count+1, timeout, 0)
	defer req.Close()
	if err := req.Open(remote); err != nil {
		return err
	}

	payload := payloadOf(payloadSize)
	done := make(chan struct{}, count)
	start := time.Now()
	for i := 0; i < count; i++ {
		if err := req.Send(payload, func(reply []byte, ok bool) { done <- struct{}{} }, nil); err != nil {
			return err
		}
	}
	for i := 0; i < count; i++ {
		select {
		case <-done:
		case <-time.After(timeout):
			return fmt.Errorf("waiting on reply %d: timed out", i)
		}
	}
	elapsed := time.Since(start)
	color.Cyan("%d in-flight round trips in %s (%.0f/s)", count, elapsed, float64(count)/elapsed.Seconds())
	return nil
}

func runRPCServer(loop *reactor.EventLoop, local netutil.Endpoint, pool executor.Executor) error {
	srv := rpc.NewServer(loop, socket.DefaultConfig(), 0)
	srv.Register("echo", func(payload []byte) ([]byte, error) { return payload, nil }, pool)
	if err := srv.Open(local); err != nil {
		return err
	}
	defer srv.Close()
	color.Green("rpc server listening on %s, method \"echo\" registered", local)
	waitForSignal()
	return nil
}

func runRPCClient(loop *reactor.EventLoop, remote netutil.Endpoint, count, payloadSize int, timeout time.Duration) error {
	client := rpc.NewClient(loop, socket.DefaultConfig(), 0, count+1, timeout, 0)
	defer client.Close()
	if err := client.Open(remote); err != nil {
		return err
	}

	payload := payloadOf(payloadSize)
	done := make(chan error, count)
	start := time.Now()
	for i := 0; i < count; i++ {
		if err := client.Call("echo", payload, func(result []byte, callErr error) { done <- callErr }, nil); err != nil {
			return err
		}
	}
	for i := 0; i < count; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("call %d: %w", i, err)
			}
		case <-time.After(timeout):
			return fmt.Errorf("waiting on call %d: timed out", i)
		}
	}
	elapsed := time.Since(start)
	color.Cyan("%d rpc calls in %s (%.0f/s)", count, elapsed, float64(count)/elapsed.Seconds())
	return nil
}
