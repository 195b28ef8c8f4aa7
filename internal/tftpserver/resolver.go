package tftpserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
	"github.com/bishopdynamics/NetbootStudioV2/internal/config"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/netlog"
	"go.uber.org/zap"
)

// ErrProtocol is returned when the resolver cannot serve a file and a
// TFTP ERROR packet should be sent (§4.5 "report a protocol error").
var ErrProtocol = errors.New("tftpserver: protocol error")

// Resolver implements the Read Request response resolution of §4.5.
type Resolver struct {
	store     clientstore.Store
	layout    config.LayoutConfig
	settings  func() config.Settings
	bootFile  string
	images    *ImageCache
	log       *netlog.Logger
	arpLookup func(ip string) (string, error)
	dnsLookup func(ip string) (string, error)
}

// NewResolver constructs a Resolver. settingsFn is consulted live on
// every request rather than cached, matching the "settings is a live
// singleton other components read" framing of §3.5. log may be nil.
func NewResolver(store clientstore.Store, layout config.LayoutConfig, settingsFn func() config.Settings, bootFile string, images *ImageCache, log *netlog.Logger) *Resolver {
	if log == nil {
		log = netlog.New("tftpserver", false)
	}
	return &Resolver{store: store, layout: layout, settings: settingsFn, bootFile: bootFile, images: images, log: log, arpLookup: ReverseLookupMAC, dnsLookup: ReverseLookupHostname}
}

// Resolve returns the bytes to serve for a Read Request of filename from
// remoteIP, mutating client state as a side effect per §4.5.
func (r *Resolver) Resolve(ctx context.Context, filename, remoteIP string) ([]byte, error) {
	clean := strings.TrimPrefix(filename, "/")

	switch {
	case filename == r.bootFile || clean == strings.TrimPrefix(r.bootFile, "/"):
		return r.resolveIPXEBin(ctx, remoteIP)
	case clean == "boot.scr.uimg":
		return r.resolveUbootScript(ctx, remoteIP)
	default:
		return r.resolvePlainFile(clean)
	}
}

func (r *Resolver) resolveIPXEBin(ctx context.Context, remoteIP string) ([]byte, error) {
	client, warned, err := r.lookupClient(ctx, remoteIP)
	if err != nil {
		return nil, err
	}

	if client != nil {
		if err := r.store.SetIP(ctx, client.MAC, remoteIP); err != nil {
			r.log.Warn("tftp: SetIP failed", zap.Error(err), zap.String("mac", client.MAC))
		}
		hostname, err := r.dnsLookup(remoteIP)
		if err != nil {
			hostname = "unknown"
		}
		if err := r.store.SetHostname(ctx, client.MAC, hostname); err != nil {
			r.log.Warn("tftp: SetHostname failed", zap.Error(err), zap.String("mac", client.MAC))
		}
		if err := r.store.SetState(ctx, client.MAC, clientstore.StateIPXE, nil); err != nil {
			r.log.Warn("tftp: SetState(ipxe) failed", zap.Error(err), zap.String("mac", client.MAC))
		}
	}

	build := ""
	arch := clientstore.ArchUnsupported
	if client != nil {
		build = client.Config.IPXEBuild
		arch = client.Arch
	}
	if data, err := r.readIPXEBuild(build); err == nil {
		return data, nil
	}

	settings := r.settings()
	fallback := settings.IPXEBuildFor(string(arch))
	data, err := r.readIPXEBuild(fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: no ipxe.bin for build %q or arch default %q", ErrProtocol, build, fallback)
	}
	if warned {
		r.log.Warn("tftp: served arch-default ipxe.bin for unknown client", zap.String("ip", remoteIP))
	}
	return data, nil
}

func (r *Resolver) readIPXEBuild(buildID string) ([]byte, error) {
	if buildID == "" {
		return nil, errors.New("tftpserver: no build assigned")
	}
	path := filepath.Join(r.layout.IPXEBuildsRoot, buildID, "ipxe.bin")
	return os.ReadFile(path)
}

func (r *Resolver) resolveUbootScript(ctx context.Context, remoteIP string) ([]byte, error) {
	client, _, err := r.lookupClient(ctx, remoteIP)
	if err != nil {
		return nil, err
	}

	scriptText := defaultBootScript
	if client != nil {
		if err := r.store.SetState(ctx, client.MAC, clientstore.StateUBoot, nil); err != nil {
			r.log.Warn("tftp: SetState(uboot) failed", zap.Error(err), zap.String("mac", client.MAC))
		}
		if name := client.Config.UbootScript; name != "" && name != "default" {
			path := filepath.Join(r.layout.UbootScriptsRoot, filepath.Base(name))
			content, err := os.ReadFile(path)
			if err != nil {
				r.log.Warn("tftp: uboot_script missing, serving default", zap.Error(err), zap.String("script", name))
			} else {
				scriptText = string(content)
			}
		}
	}

	return r.images.Render(scriptText)
}

// resolvePlainFile serves any other path verbatim from the TFTP root,
// rejecting path traversal outside it.
func (r *Resolver) resolvePlainFile(clean string) ([]byte, error) {
	if clean == "" || strings.Contains(clean, "..") {
		return nil, fmt.Errorf("%w: illegal filename", ErrProtocol)
	}
	path := filepath.Join(r.layout.TFTPRoot, filepath.FromSlash(clean))
	if !strings.HasPrefix(path, filepath.Clean(r.layout.TFTPRoot)+string(os.PathSeparator)) && path != filepath.Clean(r.layout.TFTPRoot) {
		return nil, fmt.Errorf("%w: illegal filename", ErrProtocol)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return data, nil
}

// lookupClient resolves remoteIP to a MAC via the kernel neighbor table
// and then to a client record. A missing ARP entry or unknown MAC is not
// fatal (§4.5 edge case): the caller proceeds using the arch default, and
// warned reports that this degraded path was taken.
func (r *Resolver) lookupClient(ctx context.Context, remoteIP string) (*clientstore.Client, bool, error) {
	mac, err := r.arpLookup(remoteIP)
	if err != nil {
		r.log.Warn("tftp: reverse ARP lookup failed, serving arch default", zap.Error(err), zap.String("ip", remoteIP))
		return nil, true, nil
	}

	client, err := r.store.Get(ctx, mac)
	if errors.Is(err, clientstore.ErrNotFound) {
		r.log.Warn("tftp: no client record for mac, serving arch default", zap.String("mac", mac))
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &client, false, nil
}
