// Command router runs the network-layer router, grounded on
// original_source's application/router.py main()/Router class.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/netlab-course/pseudonet/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML topology/tuning override")
	gui := flag.Bool("gui", false, "unused for the router; accepted for CLI consistency")
	flag.Parse()
	_ = *gui

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("router: loading config: %v", err)
		}
	}

	r, phys, err := cfg.BuildRouter()
	if err != nil {
		log.Fatalf("router: %v", err)
	}
	defer phys.Close()

	fmt.Printf("router running as %s\n", cfg.Topology.Router.VIP)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		fmt.Printf("\nshutting down. forwarded=%d dropped_ttl=%d dropped_unknown=%d total=%d\n",
			r.Stats.Forwarded.Load(), r.Stats.DroppedTTL.Load(), r.Stats.DroppedUnknown.Load(), r.Stats.Total())
		phys.Close()
		os.Exit(0)
	}()

	if err := r.Run(); err != nil {
		log.Printf("router: stopped: %v", err)
	}
}
