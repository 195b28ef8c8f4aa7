package tftpserver

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// ErrNoARPEntry means the kernel neighbor table has no MAC for the IP.
var ErrNoARPEntry = errors.New("tftpserver: no arp entry for address")

// ReverseLookupMAC maps an IPv4 address to a MAC address via the kernel's
// neighbor table (§4.5 "look up client by source IP (reverse ARP to
// MAC)"). No ARP library exists in the reference corpus, and originating
// an ARP request would fall under "never originate traffic" as surely as
// a DHCP reply would; reading /proc/net/arp instead relies on the kernel
// having already resolved the requester's MAC from the TFTP request's own
// traffic, which it always will have by the time a datagram arrives here.
func ReverseLookupMAC(ip string) (string, error) {
	f, err := os.Open("/proc/net/arp")
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[0] == ip {
			return strings.ToLower(fields[3]), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", ErrNoARPEntry
}
