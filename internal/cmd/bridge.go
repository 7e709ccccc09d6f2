package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Alia5/VNETIP/apiclient"
	"github.com/Alia5/VNETIP/device"
	"github.com/Alia5/VNETIP/internal/configpaths"
	"github.com/Alia5/VNETIP/internal/netif"
)

// Bridge attaches an RNDIS adapter to a VNETIP server and connects its frame
// stream to a local TAP device or network interface.
type Bridge struct {
	Addr        string        `help:"VNETIP API server address" default:"localhost:3242" env:"VNETIP_BRIDGE_ADDR"`
	Password    string        `help:"API password (default: read from the local key file if present)" env:"VNETIP_BRIDGE_PASSWORD"`
	Bus         uint32        `help:"Bus to add the adapter to; 0 creates a new bus" default:"0" env:"VNETIP_BRIDGE_BUS"`
	Backend     string        `help:"Local side of the bridge: tap or raw" enum:"tap,raw" default:"tap" env:"VNETIP_BRIDGE_BACKEND"`
	Interface   string        `help:"TAP name to create, or existing interface to bind for raw" env:"VNETIP_BRIDGE_INTERFACE"`
	Promiscuous bool          `help:"Put the raw interface into promiscuous mode" default:"false" env:"VNETIP_BRIDGE_PROMISCUOUS"`
	MAC         string        `help:"Adapter MAC address reported to the USB host" env:"VNETIP_BRIDGE_MAC"`
	Vendor      string        `help:"Adapter vendor description" env:"VNETIP_BRIDGE_VENDOR"`
	MTU         uint32        `help:"Adapter MTU (0 keeps the default)" default:"0" env:"VNETIP_BRIDGE_MTU"`
	Timeout     time.Duration `help:"API request timeout" default:"5s" env:"VNETIP_BRIDGE_TIMEOUT"`
}

// Run is called by Kong when the bridge command is executed.
func (b *Bridge) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return b.run(ctx, logger)
}

func (b *Bridge) run(ctx context.Context, logger *slog.Logger) error {
	host, err := netif.Open(netif.Config{
		Backend:     netif.Backend(b.Backend),
		Name:        b.Interface,
		Promiscuous: b.Promiscuous,
	})
	if err != nil {
		return err
	}
	defer host.Close()

	client := apiclient.NewWithConfig(b.Addr, &apiclient.Config{
		DialTimeout:  b.Timeout,
		ReadTimeout:  b.Timeout,
		WriteTimeout: b.Timeout,
		Password:     b.password(logger),
	})

	busID := b.Bus
	if busID == 0 {
		resp, err := client.BusCreateCtx(ctx, 0)
		if err != nil {
			return fmt.Errorf("create bus: %w", err)
		}
		busID = resp.BusID
		defer func() {
			if _, err := client.BusRemove(busID); err != nil {
				logger.Warn("failed to remove bus", "bus", busID, "error", err)
			}
		}()
	}

	stream, dev, err := client.AddDeviceAndConnect(ctx, busID, "rndis", b.createOptions())
	if dev != nil {
		defer func() {
			if _, err := client.DeviceRemove(busID, dev.DevId); err != nil {
				logger.Debug("device already gone", "bus", busID, "device", dev.DevId, "error", err)
			}
		}()
	}
	if err != nil {
		return fmt.Errorf("add rndis device: %w", err)
	}
	defer stream.Close()

	logger.Info("Bridge up",
		"bus", busID,
		"device", dev.DevId,
		"busid", fmt.Sprintf("%d-%s", busID, dev.DevId),
		"backend", b.Backend,
		"interface", host.Name())

	br := netif.NewBridge(apiclient.NewFrameStream(stream), host, logger)
	err = br.Run(ctx)
	st := br.Stats()
	logger.Info("Bridge stopped", "to_host", st.ToHost, "to_device", st.ToDevice, "dropped", st.Dropped)
	if err != nil && errors.Is(err, apiclient.ErrStreamClosed) {
		return nil
	}
	return err
}

func (b *Bridge) createOptions() *device.CreateOptions {
	o := &device.CreateOptions{}
	if b.MAC != "" {
		o.HardwareAddr = &b.MAC
	}
	if b.Vendor != "" {
		o.VendorDescription = &b.Vendor
	}
	if b.MTU != 0 {
		o.MTU = &b.MTU
	}
	return o
}

// password returns the configured password, falling back to the key file a
// server on this machine writes on first start.
func (b *Bridge) password(logger *slog.Logger) string {
	if b.Password != "" {
		return b.Password
	}
	dir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, keyFileName))
	if err != nil {
		return ""
	}
	logger.Debug("using password from local key file")
	return strings.TrimSpace(string(data))
}
