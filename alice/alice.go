// Command alice runs the Alice chat client, grounded on
// original_source's application/client.py main_alice().
package main

import (
	"flag"
	"log"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/chatapp"
	"github.com/netlab-course/pseudonet/config"
	"github.com/netlab-course/pseudonet/transport"
	"github.com/netlab-course/pseudonet/ui"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML topology/tuning override")
	guiFlag := flag.Bool("gui", false, "show a background status icon in addition to the console")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("alice: loading config: %v", err)
		}
	}

	host, phys, err := cfg.BuildHost(cfg.Topology.Alice)
	if err != nil {
		log.Fatalf("alice: %v", err)
	}
	defer phys.Close()

	mux := transport.NewMultiplexer(host, cfg.TransportConfig())
	defer mux.Close()

	var u ui.UI
	if *guiFlag {
		u = ui.NewGUI(cfg.Topology.Alice.Name)
	} else {
		u = ui.NewConsoleUI()
	}

	dest := addr.Endpoint{VIP: cfg.Topology.Server.VIP, Port: cfg.Topology.Server.TransportPort}
	client := chatapp.NewClient(cfg.Topology.Alice.Name, cfg.Topology.Bob.Name, u, cfg.DownloadsDir, mux, dest)
	if err := client.Run(); err != nil {
		log.Fatalf("alice: %v", err)
	}
}
