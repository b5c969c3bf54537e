// Command cantpd is an example transport daemon binary (SPEC_FULL.md
// "Supplemented features"): it connects once at startup, then exposes
// send/recv over stdin/stdout for manual exercising of a node against a
// real or virtual bus. Ground:
// cmd/canopen/main.go's flag-parsing + bus-construction + background-loop
// shape, adapted to this module's daemon instead of a CANopen node.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cantp "github.com/samsamfire/cantp"
	"github.com/samsamfire/cantp/pkg/addralloc"
	"github.com/samsamfire/cantp/pkg/can"
	_ "github.com/samsamfire/cantp/pkg/can/brutella"
	_ "github.com/samsamfire/cantp/pkg/can/socketcan"
	_ "github.com/samsamfire/cantp/pkg/can/virtual"
	"github.com/samsamfire/cantp/pkg/config"
	"github.com/samsamfire/cantp/pkg/daemon"
	"github.com/samsamfire/cantp/pkg/isotp"
	"github.com/samsamfire/cantp/pkg/isotp/refengine"
)

func main() {
	configPath := flag.String("c", "cantpd.ini", "path to deployment config")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cantpd: %v\n", err)
		os.Exit(1)
	}

	bus, err := can.NewBus(cfg.Interface, cfg.Channel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cantpd: could not construct %q bus on %q: %v\n", cfg.Interface, cfg.Channel, err)
		os.Exit(1)
	}

	bm := cantp.NewBusManager(bus, logger)
	if err := bus.Subscribe(bm); err != nil {
		fmt.Fprintf(os.Stderr, "cantpd: subscribe: %v\n", err)
		os.Exit(1)
	}
	if err := bus.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "cantpd: connect: %v\n", err)
		os.Exit(1)
	}

	engine := refengine.New(isotp.NewAdapter(bm.Bus()), 0)
	d, err := daemon.New(bm, engine, addralloc.Identity(cfg.Identity), cfg.MaxQueuedPackets, cfg.MaxQueuedBytes, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cantpd: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cantpd: start: %v\n", err)
		os.Exit(1)
	}
	defer d.Stop()

	logger.Info("waiting for address acquisition")
	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connectCancel()
	if err := d.Connect(connectCtx); err != nil {
		fmt.Fprintf(os.Stderr, "cantpd: connect: %v\n", err)
		os.Exit(1)
	}
	logger.Info("serving")

	go pumpInbound(ctx, d, logger)
	repl(ctx, d, logger)
}

// pumpInbound prints every received packet to stdout as "RECV <hex>".
func pumpInbound(ctx context.Context, d *daemon.Daemon, logger *slog.Logger) {
	buf := make([]byte, daemon.MaxPacketSize)
	for ctx.Err() == nil {
		n, err := d.Recv(buf, 200*time.Millisecond)
		if err != nil {
			continue
		}
		fmt.Printf("RECV %x\n", buf[:n])
	}
}

// repl reads "send <ascii payload>" lines from stdin until EOF or ctx is done, for
// manually driving a node from a shell during integration testing.
func repl(ctx context.Context, d *daemon.Daemon, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 || fields[0] != "send" {
			fmt.Fprintln(os.Stderr, "usage: send <ascii payload>")
			continue
		}
		if err := d.Send(ctx, []byte(fields[1]), 2*time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			continue
		}
		fmt.Println("OK")
	}
}
