package dhcpsniff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
)

func rawDiscover(mac []byte, opt93 []byte, opt60 string) []byte {
	buf := make([]byte, 240)
	buf[0] = 1 // BOOTREQUEST
	buf[2] = byte(len(mac))
	copy(buf[28:], mac)
	copy(buf[236:240], magicCookie[:])

	appendOpt := func(code byte, val []byte) {
		buf = append(buf, code, byte(len(val)))
		buf = append(buf, val...)
	}
	appendOpt(OptMessageType, []byte{MsgDiscover})
	if opt93 != nil {
		appendOpt(OptClientSystem, opt93)
	}
	if opt60 != "" {
		appendOpt(OptVendorClassID, []byte(opt60))
	}
	buf = append(buf, 255)
	return buf
}

func TestHandlePacketCreatesStubForNewClient(t *testing.T) {
	store := clientstore.NewMemory()
	s := NewSniffer(Config{}, store, nil)

	mac := []byte{0xaa, 0xbb, 0xcc, 0x11, 0x22, 0x33}
	raw := rawDiscover(mac, []byte{0x00, 0x07}, "PXEClient:Arch:00007:UNDI:003016")

	s.handlePacket(context.Background(), raw)

	c, err := store.Get(context.Background(), "aa:bb:cc:11:22:33")
	require.NoError(t, err)
	require.Equal(t, clientstore.ArchAMD64, c.Arch)
	require.Equal(t, clientstore.StateDHCP, c.State.State)
	require.Equal(t, "0.0.0.0", c.IP)
}

func TestHandlePacketCollapsesRacingDiscoversToOneCreate(t *testing.T) {
	store := clientstore.NewMemory()
	s := NewSniffer(Config{}, store, nil)

	mac := []byte{0xaa, 0xbb, 0xcc, 0x11, 0x22, 0x33}
	raw := rawDiscover(mac, []byte{0x00, 0x07}, "")

	s.handlePacket(context.Background(), raw)
	s.handlePacket(context.Background(), raw)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestHandlePacketSkipsKnownClientWithIPXEBuild(t *testing.T) {
	store := clientstore.NewMemory()
	mac := []byte{0xaa, 0xbb, 0xcc, 0x11, 0x22, 0x33}
	_, err := store.Create(context.Background(), "aa:bb:cc:11:22:33", clientstore.ArchAMD64, nil,
		clientstore.Config{IPXEBuild: "amd64-stable"})
	require.NoError(t, err)

	s := NewSniffer(Config{}, store, nil)
	raw := rawDiscover(mac, []byte{0x00, 0x00}, "")
	s.handlePacket(context.Background(), raw)

	c, err := store.Get(context.Background(), "aa:bb:cc:11:22:33")
	require.NoError(t, err)
	// arch was not clobbered by the second discover since the client
	// already had an assigned build.
	require.Equal(t, clientstore.ArchAMD64, c.Arch)
}

func TestHandlePacketIgnoresOffersWithoutCreatingAnything(t *testing.T) {
	store := clientstore.NewMemory()
	s := NewSniffer(Config{ServerIP: "10.0.0.1", BootFilename: "/ipxe.bin"}, store, nil)

	buf := make([]byte, 240)
	buf[0] = 2
	copy(buf[236:240], magicCookie[:])
	buf = append(buf, OptMessageType, 1, MsgOffer)
	buf = append(buf, 255)

	s.handlePacket(context.Background(), buf)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}
