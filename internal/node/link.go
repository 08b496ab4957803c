package node

import (
	"fmt"
	"net"
)

// NetLink reports the link as up when a watched interface is up and holds a
// global unicast address.
type NetLink struct {
	// Interface names the interface to watch. Empty watches every
	// non-loopback interface.
	Interface string
}

// Up implements Link. A named interface that does not exist is an error.
func (l NetLink) Up() (bool, error) {
	var ifaces []net.Interface
	if l.Interface != "" {
		iface, err := net.InterfaceByName(l.Interface)
		if err != nil {
			return false, fmt.Errorf("link %s: %w", l.Interface, err)
		}
		ifaces = []net.Interface{*iface}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return false, fmt.Errorf("listing interfaces: %w", err)
		}
		ifaces = all
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.IsGlobalUnicast() {
				return true, nil
			}
		}
	}
	return false, nil
}
