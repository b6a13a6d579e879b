package sip

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/stun/v3"
)

// DiscoverPublicIP queries the given STUN servers in order and returns the
// first XOR-mapped address found. Used at startup when no public IP is
// configured, so SDP can advertise a reachable media address from behind NAT.
func DiscoverPublicIP(ctx context.Context, servers []string, logger *slog.Logger) (string, error) {
	l := logger.With("subsystem", "stun")

	var lastErr error
	for _, server := range servers {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		ip, err := querySTUN(server)
		if err != nil {
			l.Warn("stun query failed, trying next server",
				"server", server,
				"error", err,
			)
			lastErr = err
			continue
		}

		l.Info("public ip discovered", "server", server, "ip", ip)
		return ip, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no stun servers configured")
	}
	return "", fmt.Errorf("discovering public ip: %w", lastErr)
}

// querySTUN performs a single binding request against one server.
func querySTUN(server string) (string, error) {
	client, err := stun.Dial("udp4", server)
	if err != nil {
		return "", fmt.Errorf("dialing stun server: %w", err)
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var ip string
	var cbErr error
	err = client.Do(msg, func(res stun.Event) {
		if res.Error != nil {
			cbErr = res.Error
			return
		}
		var mapped stun.XORMappedAddress
		if err := mapped.GetFrom(res.Message); err != nil {
			cbErr = fmt.Errorf("reading xor-mapped address: %w", err)
			return
		}
		ip = mapped.IP.String()
	})
	if err != nil {
		return "", fmt.Errorf("binding request: %w", err)
	}
	if cbErr != nil {
		return "", cbErr
	}
	return ip, nil
}
