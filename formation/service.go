// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package formation

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/goccy/go-yaml"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/topo"
)

// ServiceSpec describes the k3s installation under test, its ports, file
// locations and unit names.
type ServiceSpec struct {
	// APIPort is the apiserver port on the cluster interface.
	APIPort int
	// TokenPath is where the primary mints the cluster token.
	TokenPath string
	// ConfigPath is read by server and agent units alike.
	ConfigPath string
	ServerUnit string
	AgentUnit  string
}

// DefaultServiceSpec returns the stock k3s layout.
func DefaultServiceSpec() ServiceSpec {
	return ServiceSpec{
		APIPort:    6443,
		TokenPath:  "/var/lib/rancher/k3s/server/node-token",
		ConfigPath: "/etc/rancher/k3s/config.yaml",
		ServerUnit: "k3s",
		AgentUnit:  "k3s-agent",
	}
}

// JoinURL returns the join target built from the primary's cluster segment
// address. Joins never traverse the mgmt network.
func (s ServiceSpec) JoinURL(addr netip.Addr) string {
	return fmt.Sprintf("https://%s:%d", addr, s.APIPort)
}

// ReadyCmd probes the apiserver readiness endpoint from inside the node.
// A listening socket alone is not readiness, etcd and the controllers come
// up well after the port opens.
func (s ServiceSpec) ReadyCmd() string {
	return fmt.Sprintf("curl -ksf https://127.0.0.1:%d/readyz", s.APIPort)
}

// StartCmd starts the unit for the role.
func (s ServiceSpec) StartCmd(role topo.Role) string {
	unit := s.ServerUnit
	if role == topo.RoleAgent {
		unit = s.AgentUnit
	}

	return "systemctl start " + unit
}

// UnitName returns the unit for the role.
func (s ServiceSpec) UnitName(role topo.Role) string {
	if role == topo.RoleAgent {
		return s.AgentUnit
	}

	return s.ServerUnit
}

// NodesCmd lists the registry as seen by a server node.
func (s ServiceSpec) NodesCmd() string {
	return "k3s kubectl get nodes --no-headers -o wide"
}

// serviceConfig is the rendered /etc/rancher/k3s/config.yaml. Field order is
// the file order.
type serviceConfig struct {
	NodeName         string   `json:"node-name"`
	NodeIP           string   `json:"node-ip"`
	FlannelIface     string   `json:"flannel-iface"`
	AdvertiseAddress string   `json:"advertise-address,omitempty"`
	TLSSan           []string `json:"tls-san,omitempty"`
	ClusterInit      bool     `json:"cluster-init,omitempty"`
	Server           string   `json:"server,omitempty"`
	Token            string   `json:"token,omitempty"`
}

// ServerConfig renders the config file for a server node. The primary sets
// cluster-init, secondaries set the join server and token instead.
func (s ServiceSpec) ServerConfig(node topo.NodeSpec, p topo.Profile, joinURL string, token Token) ([]byte, error) {
	addr, err := p.AddressFor(node.Name, topo.IfaceCluster)
	if err != nil {
		return nil, err
	}

	device, err := p.Device(topo.IfaceCluster)
	if err != nil {
		return nil, err
	}

	conf := serviceConfig{
		NodeName:         node.Name,
		NodeIP:           addr.Addr().String(),
		FlannelIface:     device,
		AdvertiseAddress: addr.Addr().String(),
		TLSSan:           []string{addr.Addr().String()},
	}

	if node.Primary {
		conf.ClusterInit = true
	} else {
		conf.Server = joinURL
		conf.Token = string(token)
	}

	return marshalConfig(conf, node.Name)
}

// AgentConfig renders the config file for an agent node.
func (s ServiceSpec) AgentConfig(node topo.NodeSpec, p topo.Profile, joinURL string, token Token) ([]byte, error) {
	addr, err := p.AddressFor(node.Name, topo.IfaceCluster)
	if err != nil {
		return nil, err
	}

	device, err := p.Device(topo.IfaceCluster)
	if err != nil {
		return nil, err
	}

	conf := serviceConfig{
		NodeName:     node.Name,
		NodeIP:       addr.Addr().String(),
		FlannelIface: device,
		Server:       joinURL,
		Token:        string(token),
	}

	return marshalConfig(conf, node.Name)
}

func marshalConfig(conf serviceConfig, node string) ([]byte, error) {
	b, err := json.MarshalIndent(conf, "", " ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal service config", z.Str("node", node))
	}

	b, err = yaml.JSONToYAML(b)
	if err != nil {
		return nil, errors.Wrap(err, "yaml service config", z.Str("node", node))
	}

	return b, nil
}
