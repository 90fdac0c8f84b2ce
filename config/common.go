package config

import (
	"fmt"
	"net"
	"strconv"
)

const (
	EnvPrefix = "LANCHAT_"
)

type Listen struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

func (l Listen) GetIP() (net.IP, error) {
	ip := net.ParseIP(l.IP)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip address: %s", l.IP)
	}
	return ip, nil
}

// Addr returns the listen address in host:port form.
func (l Listen) Addr() string {
	return net.JoinHostPort(l.IP, strconv.Itoa(l.Port))
}

// ValidateAddress validates that an address is in valid host:port format.
// Returns an error if the address is invalid.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format %q: %w", addr, err)
	}

	if host == "" {
		return fmt.Errorf("host cannot be empty in address %q", addr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in address %q: %w", addr, err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d in address %q", port, addr)
	}

	return nil
}

// ResolveServerAddress turns a bare host into host:defaultPort and validates
// the result.
func ResolveServerAddress(addr string, defaultPort int) (string, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		if addr == "" {
			return "", fmt.Errorf("address cannot be empty")
		}
		addr = net.JoinHostPort(addr, strconv.Itoa(defaultPort))
	}
	if err := ValidateAddress(addr); err != nil {
		return "", err
	}
	return addr, nil
}
