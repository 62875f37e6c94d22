package discovery

import "net"

// Reachability is the network-reachability signal discovery consults
// before starting.
type Reachability interface {
	Reachable() bool
}

type ReachabilityFunc func() bool

func (f ReachabilityFunc) Reachable() bool { return f() }

// InterfaceReachability treats the network as reachable when some
// interface is up and has an address.
type InterfaceReachability struct {
	AllowLoopback bool
}

func (r InterfaceReachability) Reachable() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 {
			continue
		}
		if ifi.Flags&net.FlagLoopback != 0 && !r.AllowLoopback {
			continue
		}
		if addrs, err := ifi.Addrs(); err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
