package tftpserver

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildRRQ(filename, mode string, opts ...string) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, OpRRQ)
	buf = append(buf, []byte(filename)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(mode)...)
	buf = append(buf, 0)
	for _, o := range opts {
		buf = append(buf, []byte(o)...)
		buf = append(buf, 0)
	}
	return buf
}

func TestParseRequestBasicRRQ(t *testing.T) {
	raw := buildRRQ("ipxe.bin", "octet")
	req, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Equal(t, OpRRQ, req.Opcode)
	require.Equal(t, "ipxe.bin", req.Filename)
	require.Equal(t, "octet", req.Mode)
	require.Empty(t, req.Options)
}

func TestParseRequestWithBlksizeAndTimeoutOptions(t *testing.T) {
	raw := buildRRQ("boot.scr.uimg", "octet", "blksize", "1468", "timeout", "3")
	req, err := ParseRequest(raw)
	require.NoError(t, err)

	bs, ok := req.RequestedBlockSize()
	require.True(t, ok)
	require.Equal(t, 1468, bs)

	to, ok := req.RequestedTimeout()
	require.True(t, ok)
	require.Equal(t, 3, to)
}

func TestParseRequestRejectsOutOfRangeBlksize(t *testing.T) {
	raw := buildRRQ("x", "octet", "blksize", "99999")
	req, err := ParseRequest(raw)
	require.NoError(t, err)
	_, ok := req.RequestedBlockSize()
	require.False(t, ok)
}

func TestParseRequestRejectsMissingNulTerminator(t *testing.T) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, OpRRQ)
	buf = append(buf, []byte("truncated")...) // no trailing NUL
	_, err := ParseRequest(buf)
	require.Error(t, err)
}

func TestBuildAndParseAck(t *testing.T) {
	pkt := BuildACK(42)
	block, err := ParseAck(pkt)
	require.NoError(t, err)
	require.Equal(t, uint16(42), block)
}

func TestBuildDataEncodesBlockAndPayload(t *testing.T) {
	pkt := BuildData(7, []byte("hello"))
	require.Equal(t, OpDATA, binary.BigEndian.Uint16(pkt[0:2]))
	require.Equal(t, uint16(7), binary.BigEndian.Uint16(pkt[2:4]))
	require.Equal(t, []byte("hello"), pkt[4:])
}

func TestIsErrorDetectsErrorPackets(t *testing.T) {
	pkt := BuildError(ErrFileNotFound, "nope")
	require.True(t, IsError(pkt))
	require.False(t, IsError(BuildACK(1)))
}

func TestBuildOACKOnlyIncludesPresentOptions(t *testing.T) {
	pkt := BuildOACK(map[string]string{"blksize": "1024"}, []string{"blksize", "timeout"})
	require.Contains(t, string(pkt[2:]), "blksize\x001024\x00")
	require.NotContains(t, string(pkt[2:]), "timeout")
}
