// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package formation

import (
	"strings"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/z"
)

// RegistryNode is one node as reported by the primary's registry. Joining
// nodes poll this view, their local unit state is not sufficient to declare
// membership.
type RegistryNode struct {
	Name  string
	Ready bool
	Roles string
}

// ParseNodes parses `kubectl get nodes --no-headers -o wide` output.
func ParseNodes(output string) ([]RegistryNode, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}

	var resp []RegistryNode

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, errors.New("unexpected registry line", z.Str("line", line))
		}

		// Status may carry qualifiers like Ready,SchedulingDisabled.
		status := strings.Split(fields[1], ",")[0]

		resp = append(resp, RegistryNode{
			Name:  fields[0],
			Ready: status == "Ready",
			Roles: fields[2],
		})
	}

	return resp, nil
}

// CountReady returns the number of ready registry nodes.
func CountReady(nodes []RegistryNode) int {
	var count int
	for _, node := range nodes {
		if node.Ready {
			count++
		}
	}

	return count
}

// FindNode returns the registry entry with the name.
func FindNode(nodes []RegistryNode, name string) (RegistryNode, bool) {
	for _, node := range nodes {
		if node.Name == name {
			return node, true
		}
	}

	return RegistryNode{}, false
}
