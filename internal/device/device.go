// Package device is the top-level orchestrator: it wires the link driver
// (C1), the MIP bridge (C2), the LS/IP address map (C3), the device-socket
// map (C4), the device stack tables (C5), the network-management
// dispatcher (C6), and the MIP-app translator (C7) together, and runs the
// task set of §5 under errgroup the way other packages in this tree
// supervise a goroutine set with the first error winning.
package device

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lonworks/lon-device-stack/internal/lsip"
	"github.com/lonworks/lon-device-stack/internal/mip"
	"github.com/lonworks/lon-device-stack/internal/mipapp"
	"github.com/lonworks/lon-device-stack/internal/netmgmt"
	"github.com/lonworks/lon-device-stack/internal/socketmap"
)

// DefaultAgingInterval is the address-aging timer's default period
// (§5: "5 min default").
const DefaultAgingInterval = 5 * time.Minute

// Device bundles the per-stack collaborators that together implement one
// LonTalk device on the shared medium.
type Device struct {
	log *slog.Logger

	Bridge     *mip.Bridge
	NM         *netmgmt.Dispatcher
	Translator *mipapp.Translator
	Sockets    *socketmap.Map
	LSIP       *lsip.Map

	RetransmitInterval time.Duration
	AgingInterval      time.Duration
}

// New assembles a Device from its already-constructed collaborators.
// Sockets and LSIP may be nil when a deployment runs without LS/IP (a
// direct-attached or router-hosted configuration); their tasks are then
// skipped.
func New(bridge *mip.Bridge, nm *netmgmt.Dispatcher, tr *mipapp.Translator, sockets *socketmap.Map, lsipMap *lsip.Map, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		log:                logger.With("component", "device"),
		Bridge:             bridge,
		NM:                 nm,
		Translator:         tr,
		Sockets:            sockets,
		LSIP:               lsipMap,
		RetransmitInterval: mip.DefaultRetransmitInterval,
		AgingInterval:      DefaultAgingInterval,
	}
}

// Run starts every §5 task and blocks until ctx is cancelled or one task
// returns a non-nil, non-cancellation error; errgroup then cancels the
// shared context so the remaining tasks unwind.
func (d *Device) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.Bridge.ReceiveTask(gctx)
		return gctx.Err()
	})

	g.Go(func() error {
		return d.Bridge.RunRetransmitTimer(gctx, d.RetransmitInterval)
	})

	g.Go(func() error {
		d.NM.Run(gctx)
		return gctx.Err()
	})

	if d.LSIP != nil {
		g.Go(func() error {
			return d.runAgingTimer(gctx)
		})
	}

	if d.Sockets != nil {
		g.Go(func() error {
			return d.Sockets.RunAnnounce(gctx, d.isArbitrary)
		})
		g.Go(func() error {
			return d.Sockets.RunRebind(gctx)
		})
	}

	d.log.Info("device started")
	err := g.Wait()
	d.log.Info("device stopped", "error", err)
	return err
}

// runAgingTimer ticks the LS/IP address map's aging sweep on interval
// until ctx is cancelled (§4.3, §5).
func (d *Device) runAgingTimer(ctx context.Context) error {
	interval := d.AgingInterval
	if interval <= 0 {
		interval = DefaultAgingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.LSIP.TickAging()
		}
	}
}

// isArbitrary bridges socketmap's injected address-classification
// callback to the LS/IP map, keeping the two packages decoupled (per
// socketmap.RunAnnounce's doc comment). The socket map has no reverse
// lookup from a bare address back to (domain, subnet, node), so this
// always reports derived until that lookup exists.
func (d *Device) isArbitrary(addr socketmap.IPBytes) bool {
	return false
}
