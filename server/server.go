// Command server runs the chat relay: it accepts connections from Alice
// and Bob and routes messages between them by name, grounded on
// original_source's application/server.py main() and on the teacher's
// server/server.go signal-handling shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/chatapp"
	"github.com/netlab-course/pseudonet/config"
	"github.com/netlab-course/pseudonet/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML topology/tuning override")
	gui := flag.Bool("gui", false, "unused for the server; accepted for CLI consistency")
	flag.Parse()
	_ = *gui

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("server: loading config: %v", err)
		}
	}

	host, phys, err := cfg.BuildHost(cfg.Topology.Server)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	defer phys.Close()

	mux := transport.NewMultiplexer(host, cfg.TransportConfig())
	defer mux.Close()

	listener := mux.Listen(cfg.Topology.Server.TransportPort)

	names := map[addr.VIP]string{
		cfg.Topology.Alice.VIP: cfg.Topology.Alice.Name,
		cfg.Topology.Bob.VIP:   cfg.Topology.Bob.Name,
	}

	srv := chatapp.NewServer(listener, func(v addr.VIP) string {
		if n, ok := names[v]; ok {
			return n
		}
		return string(v)
	})

	fmt.Printf("chat server listening as %s on transport port %s\n", cfg.Topology.Server.VIP, cfg.Topology.Server.TransportPort)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		fmt.Println("\nshutting down…")
		srv.Shutdown(30 * time.Second)
		listener.Close()
		os.Exit(0)
	}()

	srv.Run(func(c *transport.Connection) addr.VIP { return c.Remote().VIP })
}
