// Command rudt-echo is a minimal demonstration server/client for the
// rudt engine: run with -listen to accept flows and echo back whatever
// bytes arrive, or with -dial to connect and print whatever the server
// echoes.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vento-silenzioso/rudt/cache"
	"github.com/vento-silenzioso/rudt/internal/rlog"
	"github.com/vento-silenzioso/rudt/rudt"
)

const version = "0.1.0"

func main() {
	listenAddr := flag.String("listen", "", "bind address to accept flows on, e.g. :9000")
	dialAddr := flag.String("dial", "", "peer address to connect to, e.g. 127.0.0.1:9000")
	frameAware := flag.Bool("frame-aware", false, "enable the frame/chunk metadata extension")
	flag.Parse()

	log := rlog.New("rudt-echo")
	log.Info("rudt-echo %s starting", version)

	if *listenAddr == "" && *dialAddr == "" {
		log.Error("one of -listen or -dial is required")
		os.Exit(2)
	}

	cfg := rudt.DefaultConfig()
	cfg.FrameAware = *frameAware
	cfg.Cache = cache.New(256)
	cfg.Logger = log

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if *listenAddr != "" {
		runServer(*listenAddr, cfg, log, sigCh)
		return
	}
	runClient(*dialAddr, cfg, log, sigCh)
}

func runServer(addr string, cfg rudt.Config, log *rlog.Logger, sigCh <-chan os.Signal) {
	ln, err := rudt.Listen(addr, cfg)
	if err != nil {
		log.Error("listen %s: %v", addr, err)
		os.Exit(1)
	}
	log.Success("listening on %s", ln.Addr())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			log.Info("accepted flow from %s", conn.RemoteAddr())
			go echoLoop(conn, log)
		}
	}()

	<-sigCh
	log.Warn("shutting down")
	ln.Close()
}

func echoLoop(conn *rudt.Conn, log *rlog.Logger) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Recv(buf)
		if err != nil {
			log.Info("flow from %s ended: %v", conn.RemoteAddr(), err)
			return
		}
		if _, err := conn.Send(buf[:n]); err != nil {
			log.Warn("echo to %s failed: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func runClient(addr string, cfg rudt.Config, log *rlog.Logger, sigCh <-chan os.Signal) {
	conn, err := rudt.Dial(addr, cfg)
	if err != nil {
		log.Error("dial %s: %v", addr, err)
		os.Exit(1)
	}
	defer conn.Close()
	log.Success("connected to %s", conn.RemoteAddr())

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 64*1024)
		for {
			n, err := conn.Recv(buf)
			if err != nil {
				return
			}
			fmt.Printf("echo: %s\n", buf[:n])
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-sigCh:
			log.Warn("shutting down")
			return
		case <-done:
			return
		case <-ticker.C:
			msg := fmt.Sprintf("ping %d", i)
			i++
			if _, err := conn.Send([]byte(msg)); err != nil {
				log.Warn("send failed: %v", err)
				return
			}
		}
	}
}
