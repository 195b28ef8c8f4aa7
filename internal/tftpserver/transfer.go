package tftpserver

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bishopdynamics/NetbootStudioV2/pkg/netlog"
)

// transfer drives one outbound Read Request to completion over its own
// ephemeral UDP socket (RFC 1350 §2: "a new TID [port] is used each
// transfer").
type transfer struct {
	conn      *net.UDPConn
	data      []byte
	blockSize int
	timeout   time.Duration
	retries   int
	log       *netlog.Logger
}

// run performs option negotiation (if requested) and then the DATA/ACK
// block loop until all of data has been acknowledged.
func (t *transfer) run(req *Request) error {
	blockNum := uint16(0)

	if len(req.Options) > 0 {
		accepted := map[string]string{}
		var order []string
		if _, ok := req.RequestedBlockSize(); ok {
			accepted["blksize"] = strconv.Itoa(t.blockSize)
			order = append(order, "blksize")
		}
		if _, ok := req.RequestedTimeout(); ok {
			accepted["timeout"] = strconv.Itoa(int(t.timeout / time.Second))
			order = append(order, "timeout")
		}
		if len(accepted) > 0 {
			if err := t.sendAndAwaitAck(BuildOACK(accepted, order), blockNum); err != nil {
				return err
			}
		}
	}

	for offset := 0; ; offset += t.blockSize {
		end := offset + t.blockSize
		if end > len(t.data) {
			end = len(t.data)
		}
		blockNum++
		chunk := t.data[offset:end]
		if err := t.sendAndAwaitAck(BuildData(blockNum, chunk), blockNum); err != nil {
			return err
		}
		// A transfer ends on a block shorter than blockSize, including a
		// final zero-length block when the data is an exact multiple.
		if len(chunk) < t.blockSize {
			return nil
		}
	}
}

// sendAndAwaitAck sends packet and waits for an ACK of wantBlock, retrying
// up to t.retries times on timeout.
func (t *transfer) sendAndAwaitAck(packet []byte, wantBlock uint16) error {
	ackBuf := make([]byte, 4)
	for attempt := 0; attempt <= t.retries; attempt++ {
		if _, err := t.conn.Write(packet); err != nil {
			return fmt.Errorf("tftpserver: write failed: %w", err)
		}
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
		n, err := t.conn.Read(ackBuf[:cap(ackBuf)])
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.log.Warn("tftp retrying after timeout", zap.Int("attempt", attempt), zap.Uint16("block", wantBlock))
				continue
			}
			return fmt.Errorf("tftpserver: read failed: %w", err)
		}
		if IsError(ackBuf[:n]) {
			return errors.New("tftpserver: peer sent error, aborting transfer")
		}
		got, err := ParseAck(ackBuf[:n])
		if err != nil {
			continue
		}
		if got == wantBlock {
			return nil
		}
		// Stale ACK for an earlier block (duplicate/out-of-order): the
		// loop resends packet, which uses up one attempt of the budget.
	}
	return fmt.Errorf("tftpserver: no ack for block %d after %d attempts", wantBlock, t.retries+1)
}
