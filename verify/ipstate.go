// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package verify

import (
	"encoding/json"
	"net/netip"
	"strconv"
	"strings"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/z"
)

// addrState is one interface from `ip -j addr show`.
type addrState struct {
	Ifname    string `json:"ifname"`
	Operstate string `json:"operstate"`
	AddrInfo  []struct {
		Family    string `json:"family"`
		Local     string `json:"local"`
		Prefixlen int    `json:"prefixlen"`
	} `json:"addr_info"`
}

// linkState is one interface from `ip -j -d link show`.
type linkState struct {
	Ifname    string `json:"ifname"`
	Operstate string `json:"operstate"`
	Link      string `json:"link"`
	Linkinfo  *struct {
		InfoKind string `json:"info_kind"`
		InfoData struct {
			Protocol string `json:"protocol"`
			ID       int    `json:"id"`
			Mode     string `json:"mode"`
			Miimon   int    `json:"miimon"`
		} `json:"info_data"`
	} `json:"linkinfo"`
}

func parseAddrs(output string) (map[string]addrState, error) {
	var entries []addrState
	if err := json.Unmarshal([]byte(output), &entries); err != nil {
		return nil, errors.Wrap(err, "parse ip addr json")
	}

	resp := make(map[string]addrState, len(entries))
	for _, entry := range entries {
		resp[entry.Ifname] = entry
	}

	return resp, nil
}

func parseLinks(output string) (map[string]linkState, error) {
	var entries []linkState
	if err := json.Unmarshal([]byte(output), &entries); err != nil {
		return nil, errors.Wrap(err, "parse ip link json")
	}

	resp := make(map[string]linkState, len(entries))
	for _, entry := range entries {
		resp[entry.Ifname] = entry
	}

	return resp, nil
}

// hasAddr returns true if the interface carries the address.
func (a addrState) hasAddr(prefix netip.Prefix) bool {
	for _, info := range a.AddrInfo {
		if info.Family == "inet" && info.Local == prefix.Addr().String() && info.Prefixlen == prefix.Bits() {
			return true
		}
	}

	return false
}

// up returns true if the interface is administratively up.
func (a addrState) up() bool {
	return a.Operstate == "UP" || a.Operstate == "UNKNOWN"
}

// bondState is the parsed /proc/net/bonding/<device> file.
type bondState struct {
	Mode      string
	MIIStatus string
	Miimon    int
	Active    string
	Slaves    map[string]string // interface to mii status
}

// parseBondProc parses the bonding driver proc file. Only the fields the
// checks consume are extracted.
func parseBondProc(output string) (bondState, error) {
	state := bondState{Slaves: make(map[string]string)}

	var slave string

	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case "Bonding Mode":
			// Shaped like "fault-tolerance (active-backup)".
			if open := strings.Index(value, "("); open >= 0 && strings.HasSuffix(value, ")") {
				state.Mode = value[open+1 : len(value)-1]
			} else {
				state.Mode = value
			}
		case "Currently Active Slave":
			state.Active = value
		case "MII Polling Interval (ms)":
			miimon, err := strconv.Atoi(value)
			if err != nil {
				return bondState{}, errors.Wrap(err, "parse miimon", z.Str("value", value))
			}
			state.Miimon = miimon
		case "Slave Interface":
			slave = value
		case "MII Status":
			if slave == "" {
				state.MIIStatus = value
			} else {
				state.Slaves[slave] = value
			}
		}
	}

	if state.Mode == "" {
		return bondState{}, errors.New("bonding proc file without mode")
	}

	return state, nil
}
