package tftpserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
	"github.com/bishopdynamics/NetbootStudioV2/internal/config"
)

func newTestResolver(t *testing.T, store clientstore.Store, arp func(string) (string, error), settings config.Settings) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	layout := config.LayoutConfig{
		TFTPRoot:         filepath.Join(dir, "tftpboot"),
		IPXEBuildsRoot:   filepath.Join(dir, "ipxe_builds"),
		UbootScriptsRoot: filepath.Join(dir, "uboot_scripts"),
	}
	require.NoError(t, os.MkdirAll(layout.TFTPRoot, 0o755))
	require.NoError(t, os.MkdirAll(layout.IPXEBuildsRoot, 0o755))
	require.NoError(t, os.MkdirAll(layout.UbootScriptsRoot, 0o755))

	images := NewImageCache("mkimage-does-not-exist-in-tests", filepath.Join(dir, "scratch"))
	r := NewResolver(store, layout, func() config.Settings { return settings }, "/ipxe.bin", images, nil)
	if arp != nil {
		r.arpLookup = arp
	}
	r.dnsLookup = func(ip string) (string, error) { return "", ErrNoARPEntry }
	return r, dir
}

// concrete scenario 2: client from discover; settings ipxe_build_amd64="B1";
// B1/ipxe.bin = [0xAA,0xBB]. Expect those bytes, state -> ipxe, ip updated.
func TestResolveIPXEBinUsesArchDefaultWhenClientHasNoBuildAssigned(t *testing.T) {
	store := clientstore.NewMemory()
	_, err := store.Create(context.Background(), "aa:bb:cc:11:22:33", clientstore.ArchAMD64, nil, clientstore.Config{})
	require.NoError(t, err)

	arp := func(ip string) (string, error) { return "aa:bb:cc:11:22:33", nil }
	settings := config.DefaultSettings()
	settings.IPXEBuildArm64 = ""
	settings.IPXEBuildAmd64 = "B1"

	r, dir := newTestResolver(t, store, arp, settings)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ipxe_builds", "B1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ipxe_builds", "B1", "ipxe.bin"), []byte{0xAA, 0xBB}, 0o644))

	data, err := r.Resolve(context.Background(), "/ipxe.bin", "192.168.1.50")
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB}, data)

	c, err := store.Get(context.Background(), "aa:bb:cc:11:22:33")
	require.NoError(t, err)
	require.Equal(t, clientstore.StateIPXE, c.State.State)
	require.Equal(t, "192.168.1.50", c.IP)
	require.Equal(t, "unknown", c.Hostname)
}

func TestResolveIPXEBinPrefersClientAssignedBuild(t *testing.T) {
	store := clientstore.NewMemory()
	_, err := store.Create(context.Background(), "aa:bb:cc:11:22:33", clientstore.ArchAMD64, nil,
		clientstore.Config{IPXEBuild: "custom-build"})
	require.NoError(t, err)

	arp := func(ip string) (string, error) { return "aa:bb:cc:11:22:33", nil }
	r, dir := newTestResolver(t, store, arp, config.DefaultSettings())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ipxe_builds", "custom-build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ipxe_builds", "custom-build", "ipxe.bin"), []byte{1, 2, 3}, 0o644))

	data, err := r.Resolve(context.Background(), "/ipxe.bin", "10.0.0.5")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)
}

func TestResolveIPXEBinErrorsWhenNoBuildAnywhere(t *testing.T) {
	store := clientstore.NewMemory()
	arp := func(ip string) (string, error) { return "", ErrNoARPEntry }
	r, _ := newTestResolver(t, store, arp, config.DefaultSettings())

	_, err := r.Resolve(context.Background(), "/ipxe.bin", "10.0.0.9")
	require.Error(t, err)
}

func TestResolvePlainFileServesFromTFTPRoot(t *testing.T) {
	store := clientstore.NewMemory()
	r, dir := newTestResolver(t, store, nil, config.DefaultSettings())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tftpboot", "notes.txt"), []byte("hi"), 0o644))

	data, err := r.Resolve(context.Background(), "notes.txt", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), data)
}

func TestResolvePlainFileRejectsPathTraversal(t *testing.T) {
	store := clientstore.NewMemory()
	r, _ := newTestResolver(t, store, nil, config.DefaultSettings())

	_, err := r.Resolve(context.Background(), "../../etc/passwd", "10.0.0.1")
	require.Error(t, err)
}

func TestResolveUbootScriptFallsBackToDefaultWhenMissing(t *testing.T) {
	store := clientstore.NewMemory()
	_, err := store.Create(context.Background(), "aa:bb:cc:11:22:33", clientstore.ArchARM64, nil,
		clientstore.Config{UbootScript: "does-not-exist.scr"})
	require.NoError(t, err)
	arp := func(ip string) (string, error) { return "aa:bb:cc:11:22:33", nil }
	r, _ := newTestResolver(t, store, arp, config.DefaultSettings())

	// mkimage binary doesn't exist in the test environment, so Render
	// itself errors; the important behavior under test is that the
	// resolver gets as far as reaching the image cache with the default
	// script rather than failing on the missing named script file.
	_, err = r.Resolve(context.Background(), "boot.scr.uimg", "10.0.0.1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "mkimage binary")

	c, getErr := store.Get(context.Background(), "aa:bb:cc:11:22:33")
	require.NoError(t, getErr)
	require.Equal(t, clientstore.StateUBoot, c.State.State)
}
