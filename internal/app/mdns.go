package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_hagw-pixie._tcp"
	mdnsDomain      = "local."
)

// startMDNS advertises the RPC endpoint; mqttPort is published in TXT when known.
func (a *App) startMDNS(rpcPort, mqttPort int) error {
	if rpcPort <= 0 {
		return fmt.Errorf("invalid port %d", rpcPort)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "hagw"
	}

	instance := sanitizeMDNSInstance(fmt.Sprintf("HAGW Pixie (%s)", hostname))

	txt := []string{
		fmt.Sprintf("rpc_port=%d", rpcPort),
		fmt.Sprintf("service_id=%s", a.cfg.ServiceID),
		"proto=jsonrpc2",
	}
	if mqttPort > 0 {
		txt = append(txt, fmt.Sprintf("mqtt_port=%d", mqttPort))
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, rpcPort, txt, nil)
	if err != nil {
		return err
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", rpcPort)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

func sanitizeMDNSInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	replacer := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ")
	cleaned = replacer.Replace(cleaned)
	if cleaned == "" {
		cleaned = "HAGW Pixie"
	}
	// Instance labels must be <=63 characters.
	runes := []rune(cleaned)
	if len(runes) > 63 {
		cleaned = string(runes[:63])
	}
	return cleaned
}
