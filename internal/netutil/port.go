package netutil

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoBindAddr is returned when neither the preferred API address nor any
// fallback can be listened on.
var ErrNoBindAddr = errors.New("no available api bind address")

// SelectBindAddr returns the first address from preferred followed by
// fallbacks that is free to listen on. An empty fallback list makes a busy
// preferred address fatal.
func SelectBindAddr(preferred string, fallbacks []string) (string, error) {
	candidates := make([]string, 0, len(fallbacks)+1)
	if preferred != "" {
		candidates = append(candidates, preferred)
	}
	candidates = append(candidates, fallbacks...)

	for _, addr := range candidates {
		ok, err := addrAvailable(addr)
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", addr, err)
		}
		if ok {
			return addr, nil
		}
	}
	if preferred != "" && len(fallbacks) == 0 {
		return "", fmt.Errorf("%w: %s is in use", ErrNoBindAddr, preferred)
	}
	return "", ErrNoBindAddr
}

func addrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if err := ln.Close(); err != nil {
		return false, err
	}
	return true, nil
}
