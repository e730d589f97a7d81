package commands

import (
	"context"
	"errors"
	"nearby/config"
	"nearby/discovery"
	"nearby/helper/timer"
	"nearby/peerid"
	"nearby/radio/udp"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// logListener reports presence transitions to the log.
type logListener struct{}

func (logListener) OnPeerDiscovered(peer peerid.ID) {
	log.Infof("Peer discovered: %s", peer)
}

func (logListener) OnPeerLost(peer peerid.ID) {
	log.Infof("Peer lost: %s", peer)
}

// RunServe advertises this node and reports peers coming and going until
// the process is told to stop.
func RunServe(ctx context.Context, cfg *config.Config) {
	id, err := peerid.Parse(cfg.Node.PeerID)
	if err != nil {
		log.Fatalf("No usable peer id in the config, run init first: %v", err)
	}

	rad, err := udp.New(udp.Config{
		Group:         cfg.Radio.Group,
		QueryListen:   cfg.Radio.QueryListen,
		Interval:      cfg.Radio.AdvertiseEvery.Duration,
		Jitter:        cfg.Radio.AdvertiseJitter.Duration,
		EmbedIdentity: cfg.Radio.EmbedIdentity,
	})
	if err != nil {
		log.Fatalf("Failed to bring up the radio: %v", err)
	}
	defer rad.Close()

	coord, err := discovery.NewCoordinator(rad, logListener{}, discovery.Options{
		SweepInterval:  cfg.Discovery.SweepEvery.Duration,
		StaleThreshold: cfg.Discovery.StaleAfter.Duration,
		AddrCacheSize:  cfg.Discovery.AddrCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to create the coordinator: %v", err)
	}

	if err := coord.StartDiscovery(id); err != nil {
		log.Fatalf("Failed to start discovery: %v", err)
	}

	sctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Log a presence snapshot now and then until we are told to stop.
	err = timer.RunWithTicker(sctx, &timer.Interval{Duration: 30 * time.Second}, func(ctx context.Context) error {
		peers := coord.Peers()
		log.Infof("Presence: %d peers nearby %v", len(peers), peers)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Serve loop failed: %v", err)
	}

	log.Infof("Shutting down")
	coord.StopDiscovery()
}
