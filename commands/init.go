package commands

import (
	"context"
	"nearby/config"
	"nearby/peerid"

	log "github.com/sirupsen/logrus"
)

// RunInit generates a fresh peer identity and writes the initial config.
func RunInit(ctx context.Context, cfg *config.Config) {
	id, err := peerid.Random()
	if err != nil {
		log.Fatalf("Failed to generate a peer id: %v", err)
	}
	cfg.Node.PeerID = string(id)

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}

	log.Infof("Initialized node %s", id)
}
