package commands

import (
	"context"
	"nearby/config"
	"nearby/peerid"
	"nearby/radio"

	log "github.com/sirupsen/logrus"
)

// RunInfo prints what this node will tell its peers.
func RunInfo(ctx context.Context, cfg *config.Config) {
	id, err := peerid.Parse(cfg.Node.PeerID)
	if err != nil {
		log.Fatalf("No usable peer id in the config, run init first: %v", err)
	}

	mode := "served over the query endpoint"
	if cfg.Radio.EmbedIdentity && id.Fits(radio.MaxIdentity) {
		mode = "embedded in broadcasts"
	}

	log.Infof("Peer id: %s (%d bytes, %s)", id, len(id.Bytes()), mode)
	log.Infof("Radio group: %s", cfg.Radio.Group)
	log.Infof("Query endpoint: %s", cfg.Radio.QueryListen)
	log.Infof("Advertise every %v with %v jitter", cfg.Radio.AdvertiseEvery.Duration, cfg.Radio.AdvertiseJitter.Duration)
	log.Infof("Peers go stale after %v, swept every %v", cfg.Discovery.StaleAfter.Duration, cfg.Discovery.SweepEvery.Duration)
}
