// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package fleetmock provides an in-memory mock fleet for testing cluster
// formation without virtual machines. It models just enough of a k3s node
// to drive the formation protocol: unit starts mint a token on the primary,
// started nodes appear in the registry table, and iproute2 queries are
// answered from the topology profile.
package fleetmock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/topo"
)

const (
	mockToken   = "K10mockd41d8cd98f00b204e9800998ecf8427e::server:deadbeefcafe"
	tokenPath   = "/var/lib/rancher/k3s/server/node-token"
	kubeVersion = "v1.32.4+k3s1"
)

// Option defines a functional option to configure the mock fleet.
type Option func(*Fleet)

// ExecHandler overrides the response for commands containing a substring.
type ExecHandler func(ctx context.Context, node, command string) (fleet.ExecResult, error)

// WithBootErr configures booting the named node to fail.
func WithBootErr(node string, err error) Option {
	return func(f *Fleet) {
		f.bootErrs[node] = err
	}
}

// WithStartFailure configures the service unit start on the named node to
// exit non-zero.
func WithStartFailure(node string) Option {
	return func(f *Fleet) {
		f.startFail[node] = true
	}
}

// WithNotReady configures the named node to never turn ready in the
// registry even though it registers.
func WithNotReady(node string) Option {
	return func(f *Fleet) {
		f.notReady[node] = true
	}
}

// WithReadyAfter configures the named node to report NotReady for the first
// polls registry queries after it registers.
func WithReadyAfter(node string, polls int) Option {
	return func(f *Fleet) {
		f.readyAfter[node] = polls
	}
}

// WithReadyzAfter configures the readiness endpoint on the named node to
// fail for the first polls probes after the unit starts. This models the
// gap between the api socket opening and the server turning ready.
func WithReadyzAfter(node string, polls int) Option {
	return func(f *Fleet) {
		f.readyzAfter[node] = polls
	}
}

// WithExecHandler overrides responses for commands containing substr.
// Handlers are matched in registration order before built-in behaviour.
func WithExecHandler(substr string, handler ExecHandler) Option {
	return func(f *Fleet) {
		f.handlers = append(f.handlers, execOverride{substr: substr, handler: handler})
	}
}

// WithTopology provides the profile used to answer iproute2 queries, so
// health verification can run against the mock.
func WithTopology(p topo.Profile) Option {
	return func(f *Fleet) {
		f.profile = &p
	}
}

type execOverride struct {
	substr  string
	handler ExecHandler
}

// New returns a new mock fleet.
func New(opts ...Option) *Fleet {
	f := &Fleet{
		nodes:       make(map[string]*Node),
		bootErrs:    make(map[string]error),
		startFail:   make(map[string]bool),
		notReady:    make(map[string]bool),
		readyAfter:  make(map[string]int),
		readyzAfter: make(map[string]int),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fleet is a mock fleet.Fleet implementation.
type Fleet struct {
	mu          sync.Mutex
	nodes       map[string]*Node
	bootOrder   []string
	execLog     []string
	bootErrs    map[string]error
	startFail   map[string]bool
	notReady    map[string]bool
	readyAfter  map[string]int
	readyzAfter map[string]int
	handlers    []execOverride
	profile     *topo.Profile
	token       string
	closed      bool
}

// Boot returns a mock node for the definition, or the configured boot error.
func (f *Fleet) Boot(_ context.Context, spec topo.NodeSpec) (fleet.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bootOrder = append(f.bootOrder, spec.Name)

	if err := f.bootErrs[spec.Name]; err != nil {
		return nil, err
	}

	node := &Node{
		fleet: f,
		spec:  spec,
		files: make(map[string][]byte),
	}
	f.nodes[spec.Name] = node

	return node, nil
}

// Close marks the fleet closed.
func (f *Fleet) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

// BootOrder returns node names in the order Boot was called.
func (f *Fleet) BootOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.bootOrder...)
}

// ExecLog returns all executed commands across the fleet in order, each
// prefixed with "<node>: ".
func (f *Fleet) ExecLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.execLog...)
}

// Commands returns the commands executed on the named node in order.
func (f *Fleet) Commands(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, ok := f.nodes[name]
	if !ok {
		return nil
	}

	return append([]string(nil), node.commands...)
}

// File returns the content written to path on the named node.
func (f *Fleet) File(name, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, ok := f.nodes[name]
	if !ok {
		return nil, false
	}

	b, ok := node.files[path]

	return b, ok
}

// Started reports whether the service unit was started on the named node.
func (f *Fleet) Started(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, ok := f.nodes[name]

	return ok && node.unit != ""
}

// Token returns the minted cluster token, empty before the primary starts.
func (f *Fleet) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.token
}

// Closed reports whether the fleet was closed.
func (f *Fleet) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

// Node is a mock fleet.Node implementation.
type Node struct {
	fleet *Fleet
	spec  topo.NodeSpec

	// Fields below are guarded by fleet.mu.
	unit     string
	commands []string
	files    map[string][]byte
	closed   bool
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.spec.Name
}

// Exec dispatches the command to a registered handler or the built-in k3s
// model and records it.
func (n *Node) Exec(ctx context.Context, command string) (fleet.ExecResult, error) {
	n.fleet.mu.Lock()
	n.commands = append(n.commands, command)
	n.fleet.execLog = append(n.fleet.execLog, n.spec.Name+": "+command)
	handlers := append([]execOverride(nil), n.fleet.handlers...)
	n.fleet.mu.Unlock()

	for _, h := range handlers {
		if strings.Contains(command, h.substr) {
			return h.handler(ctx, n.spec.Name, command)
		}
	}

	return n.builtin(command)
}

func (n *Node) builtin(command string) (fleet.ExecResult, error) {
	n.fleet.mu.Lock()
	defer n.fleet.mu.Unlock()

	res := fleet.ExecResult{Command: command}

	switch {
	case strings.HasPrefix(command, "systemctl start "):
		unit := strings.TrimPrefix(command, "systemctl start ")
		if n.fleet.startFail[n.spec.Name] {
			res.ExitCode = 1
			res.Stderr = fmt.Sprintf("Job for %s.service failed because the control process exited with error code.", unit)

			return res, nil
		}

		n.unit = unit
		if n.spec.Primary {
			n.fleet.token = mockToken
		}

		return res, nil

	case strings.Contains(command, "/readyz"):
		if n.unit == "" {
			res.ExitCode = 7 // curl connection refused

			return res, nil
		}
		if n.fleet.readyzAfter[n.spec.Name] > 0 {
			n.fleet.readyzAfter[n.spec.Name]--
			res.ExitCode = 22 // curl http error, 503 until ready

			return res, nil
		}
		res.Stdout = "ok"

		return res, nil

	case strings.Contains(command, "kubectl get nodes"):
		if n.unit == "" || n.spec.Role != topo.RoleServer {
			res.ExitCode = 1
			res.Stderr = "The connection to the server localhost:8080 was refused"

			return res, nil
		}
		res.Stdout = n.fleet.registryTable()

		return res, nil

	case strings.HasPrefix(command, "cat "):
		return n.catFile(strings.TrimPrefix(command, "cat ")), nil

	case command == "ip -j addr show":
		return n.fleet.addrJSON(n.spec.Name, res), nil

	case command == "ip -j -d link show":
		return n.fleet.linkJSON(res), nil

	case strings.HasPrefix(command, "ping "):
		return n.fleet.pingResult(n.spec.Name, res), nil

	case strings.HasPrefix(command, "journalctl "):
		res.Stdout = fmt.Sprintf("mock journal for %s on %s", n.unit, n.spec.Name)

		return res, nil

	case strings.HasPrefix(command, "systemctl status "):
		res.Stdout = fmt.Sprintf("● %s.service - mock unit on %s\n   Active: active (running)", n.unit, n.spec.Name)

		return res, nil

	default:
		// Network plan steps, chmod and diagnostics dumps all succeed.
		return res, nil
	}
}

func (n *Node) catFile(path string) fleet.ExecResult {
	res := fleet.ExecResult{}

	if b, ok := n.files[path]; ok {
		res.Stdout = string(b)

		return res
	}

	if path == tokenPath && n.spec.Primary && n.unit != "" {
		res.Stdout = n.fleet.token

		return res
	}

	if n.fleet.profile != nil && strings.HasPrefix(path, "/proc/net/bonding/") {
		if bond, ok := n.fleet.profile.BondSpec(); ok && strings.HasSuffix(path, bond.Device) {
			res.Stdout = bondProc(bond)

			return res
		}
	}

	res.ExitCode = 1
	res.Stderr = fmt.Sprintf("cat: %s: No such file or directory", path)

	return res
}

// WriteFile stores the file in memory.
func (n *Node) WriteFile(_ context.Context, path string, data []byte) error {
	n.fleet.mu.Lock()
	defer n.fleet.mu.Unlock()

	n.files[path] = append([]byte(nil), data...)

	return nil
}

// ReadFile returns a stored file, or the token once the primary started.
func (n *Node) ReadFile(_ context.Context, path string) ([]byte, error) {
	n.fleet.mu.Lock()
	defer n.fleet.mu.Unlock()

	if b, ok := n.files[path]; ok {
		return append([]byte(nil), b...), nil
	}

	if path == tokenPath && n.spec.Primary && n.unit != "" {
		return []byte(n.fleet.token + "\n"), nil
	}

	return nil, errors.New("no such file", z.Str("path", path))
}

// WaitForPort succeeds once the service unit started.
func (n *Node) WaitForPort(_ context.Context, port int) error {
	n.fleet.mu.Lock()
	defer n.fleet.mu.Unlock()

	if n.unit == "" {
		return errors.Wrap(fleet.ErrWaitTimeout, "port never opened", z.Int("port", port))
	}

	return nil
}

// Close marks the node closed.
func (n *Node) Close() error {
	n.fleet.mu.Lock()
	defer n.fleet.mu.Unlock()

	n.closed = true

	return nil
}

// registryTable renders the started nodes as `kubectl get nodes` output.
// Must be called with fleet.mu held.
func (f *Fleet) registryTable() string {
	var names []string
	for name, node := range f.nodes {
		if node.unit != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		status := "Ready"
		if f.notReady[name] {
			status = "NotReady"
		} else if f.readyAfter[name] > 0 {
			f.readyAfter[name]--
			status = "NotReady"
		}

		roles := "<none>"
		if f.nodes[name].spec.Role == topo.RoleServer {
			roles = "control-plane,etcd,master"
		}

		sb.WriteString(fmt.Sprintf("%s   %s   %s   2m    %s\n", name, status, roles, kubeVersion))
	}

	return sb.String()
}
