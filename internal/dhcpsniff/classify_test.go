package dhcpsniff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
)

func packetWith(mac []byte, opt93 []byte, opt60 string) *Packet {
	opts := Options{}
	if opt93 != nil {
		opts[OptClientSystem] = opt93
	}
	if opt60 != "" {
		opts[OptVendorClassID] = []byte(opt60)
	}
	return &Packet{CHAddr: mac, Options: opts}
}

func TestClassifyAmd64DiscoverScenario(t *testing.T) {
	// concrete scenario 1: discover from aa:bb:cc:11:22:33, option-93
	// 0x0007, option-60 "PXEClient:Arch:00007:UNDI:003016" -> amd64.
	mac := []byte{0xaa, 0xbb, 0xcc, 0x11, 0x22, 0x33}
	pkt := packetWith(mac, []byte{0x00, 0x07}, "PXEClient:Arch:00007:UNDI:003016")

	c, err := Classify(pkt)
	require.NoError(t, err)
	require.Equal(t, "aa:bb:cc:11:22:33", c.MAC)
	require.Equal(t, clientstore.ArchAMD64, c.Arch)
}

func TestClassifyOption60OverridesToARM64(t *testing.T) {
	mac := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	// option-93 says EFI BC (would tentatively be amd64), but option-60
	// reports arm64 — the platforms §4.4 says "reliably report there".
	pkt := packetWith(mac, []byte{0x00, 0x07}, "PXEClient:Arch:00011:UNDI:003016")

	c, err := Classify(pkt)
	require.NoError(t, err)
	require.Equal(t, clientstore.ArchARM64, c.Arch)
}

func TestClassifyBIOSDefaultsTo64Bit(t *testing.T) {
	mac := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	pkt := packetWith(mac, []byte{0x00, 0x00}, "")

	c, err := Classify(pkt)
	require.NoError(t, err)
	require.Equal(t, clientstore.ArchBIOS64, c.Arch)
}

func TestClassifyUnknownOption93IsUnsupported(t *testing.T) {
	mac := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	pkt := packetWith(mac, []byte{0xff, 0xff}, "")

	c, err := Classify(pkt)
	require.NoError(t, err)
	require.Equal(t, clientstore.ArchUnsupported, c.Arch)
}

func TestClassifyMalformedVendorClassIgnored(t *testing.T) {
	mac := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	// Not a PXEClient vendor class at all; option-93 tentative arch stands.
	pkt := packetWith(mac, []byte{0x00, 0x07}, "some-other-vendor")

	c, err := Classify(pkt)
	require.NoError(t, err)
	require.Equal(t, clientstore.ArchAMD64, c.Arch)
}

func TestParsePacketRejectsShortPayload(t *testing.T) {
	_, err := ParsePacket([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestParseOptionsStopsAtEndOption(t *testing.T) {
	buf := []byte{53, 1, 1, 255, 99, 99, 99}
	opts, err := parseOptions(buf)
	require.NoError(t, err)
	require.Equal(t, byte(1), opts.MessageType())
	_, present := opts[99]
	require.False(t, present)
}
