package wol

import (
	"fmt"
	"net"
	"strings"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

// Magic packet layout: 6 bytes of 0xFF followed by the target MAC
// repeated 16 times, 102 bytes total, sent as a UDP datagram to port 9
// on the directed broadcast address.
const (
	packetSize    = 102
	syncBytes     = 6
	macRepeats    = 16
	WakePort      = 9
	macOctets     = 6
)

// BuildMagicPacket assembles the wake-on-LAN payload for mac.
func BuildMagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return nil, fmt.Errorf("op=wol.BuildMagicPacket: %w: %v", domain.ErrInvalidArgument, err)
	}
	if len(hw) != macOctets {
		return nil, fmt.Errorf("op=wol.BuildMagicPacket: %w: MAC must be 6 octets, got %d", domain.ErrInvalidArgument, len(hw))
	}
	pkt := make([]byte, 0, packetSize)
	for i := 0; i < syncBytes; i++ {
		pkt = append(pkt, 0xFF)
	}
	for i := 0; i < macRepeats; i++ {
		pkt = append(pkt, hw...)
	}
	return pkt, nil
}

// BroadcastAddr picks the destination for magic packets: an explicit
// override wins, otherwise the /24 directed broadcast of the worker IP,
// otherwise the limited broadcast address.
func BroadcastAddr(override, workerIP string) string {
	if override != "" {
		return override
	}
	if ip := net.ParseIP(workerIP); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return fmt.Sprintf("%d.%d.%d.255", v4[0], v4[1], v4[2])
		}
	}
	return "255.255.255.255"
}
