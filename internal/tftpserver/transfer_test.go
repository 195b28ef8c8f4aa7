package tftpserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bishopdynamics/NetbootStudioV2/pkg/netlog"
)

func TestTransferRunDeliversAllBlocksWithoutOptions(t *testing.T) {
	clientConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn, err := net.DialUDP("udp4", nil, clientConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer serverConn.Close()

	payload := make([]byte, 30)
	for i := range payload {
		payload[i] = byte(i)
	}

	xfer := &transfer{
		conn:      serverConn,
		data:      payload,
		blockSize: 10,
		timeout:   2 * time.Second,
		retries:   2,
		log:       netlog.New("test", true),
	}

	done := make(chan error, 1)
	go func() { done <- xfer.run(&Request{}) }()

	var received []byte
	ackBuf := make([]byte, 2048)
	for i := 0; i < 4; i++ {
		clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, from, err := clientConn.ReadFromUDP(ackBuf)
		require.NoError(t, err)
		block := uint16(ackBuf[2])<<8 | uint16(ackBuf[3])
		received = append(received, ackBuf[4:n]...)
		_, err = clientConn.WriteToUDP(BuildACK(block), from)
		require.NoError(t, err)
		if n-4 < 10 {
			break
		}
	}

	require.NoError(t, <-done)
	require.Equal(t, payload, received)
}

func TestTransferRunRetriesOnAckTimeout(t *testing.T) {
	clientConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn, err := net.DialUDP("udp4", nil, clientConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer serverConn.Close()

	xfer := &transfer{
		conn:      serverConn,
		data:      []byte("hi"),
		blockSize: 512,
		timeout:   100 * time.Millisecond,
		retries:   2,
		log:       netlog.New("test", true),
	}

	done := make(chan error, 1)
	go func() { done <- xfer.run(&Request{}) }()

	// Drop the first DATA packet (simulating loss), then ack the retry.
	ackBuf := make([]byte, 2048)
	clientConn.SetReadDeadline(time.Now().Add(1 * time.Second))
	_, from, err := clientConn.ReadFromUDP(ackBuf)
	require.NoError(t, err)

	clientConn.SetReadDeadline(time.Now().Add(1 * time.Second))
	n, _, err := clientConn.ReadFromUDP(ackBuf)
	require.NoError(t, err)
	block := uint16(ackBuf[2])<<8 | uint16(ackBuf[3])
	_, err = clientConn.WriteToUDP(BuildACK(block), from)
	require.NoError(t, err)
	_ = n

	require.NoError(t, <-done)
}
