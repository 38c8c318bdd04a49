// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package fleet

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ssh"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/topo"
)

const (
	defaultBinary   = "qemu-system-x86_64"
	defaultDataNet  = "230.87.87.1:48500"
	defaultCPUs     = 2
	defaultMemMiB   = 2048
	defaultBootWait = 3 * time.Minute
	defaultWait     = 2 * time.Minute

	dialInterval = 500 * time.Millisecond
	portInterval = 2 * time.Second
)

// Config configures a QEMU fleet.
type Config struct {
	// Image is the base qcow2 image nodes boot from.
	Image string
	// RunDir holds per node state, overlay disks and serial logs.
	RunDir string
	// DataNICs is the number of data plane NICs per node, mgmt excluded.
	DataNICs int
	// DataNet is the multicast group backing the shared data segment. All
	// data NICs of all nodes attach to it, forming one virtual switch that
	// carries tagged and untagged frames alike.
	DataNet string
	// Binary overrides the qemu system binary.
	Binary string

	User     string
	Password string
	// KeyFile optionally authenticates with a private key instead of the
	// password.
	KeyFile string

	CPUs      int
	MemoryMiB int

	// BootTimeout bounds the wait for ssh after starting a node.
	BootTimeout time.Duration
	// WaitTimeout bounds WaitForPort.
	WaitTimeout time.Duration

	NoKVM bool

	Clock clockwork.Clock
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = defaultBinary
	}
	if c.DataNet == "" {
		c.DataNet = defaultDataNet
	}
	if c.User == "" {
		c.User = "root"
	}
	if c.Password == "" && c.KeyFile == "" {
		c.Password = "root"
	}
	if c.CPUs == 0 {
		c.CPUs = defaultCPUs
	}
	if c.MemoryMiB == 0 {
		c.MemoryMiB = defaultMemMiB
	}
	if c.BootTimeout == 0 {
		c.BootTimeout = defaultBootWait
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = defaultWait
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return c
}

// QEMUFleet boots local QEMU virtual machines. Each node gets a NATed mgmt
// NIC with ssh forwarded to a free localhost port plus the configured number
// of data NICs on the shared data segment.
type QEMUFleet struct {
	conf Config

	mu    sync.Mutex
	nodes []*qemuNode
}

// NewQEMUFleet returns a new QEMU fleet.
func NewQEMUFleet(conf Config) (*QEMUFleet, error) {
	conf = conf.withDefaults()

	if conf.Image == "" {
		return nil, errors.New("fleet base image required")
	}
	if conf.RunDir == "" {
		return nil, errors.New("fleet run dir required")
	}
	if conf.DataNICs < 1 {
		return nil, errors.New("fleet requires at least one data nic")
	}

	if err := os.MkdirAll(conf.RunDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create run dir")
	}

	return &QEMUFleet{conf: conf}, nil
}

// Boot starts the node and blocks until its ssh endpoint accepts commands.
func (f *QEMUFleet) Boot(ctx context.Context, spec topo.NodeSpec) (Node, error) {
	ctx = log.WithTopic(ctx, "fleet")
	t0 := f.conf.Clock.Now()

	dir := filepath.Join(f.conf.RunDir, spec.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create node dir", z.Str("node", spec.Name))
	}

	image := f.conf.Image
	if spec.Image != "" {
		image = spec.Image
	}

	overlay := filepath.Join(dir, "disk.qcow2")

	out, err := exec.CommandContext(ctx, "qemu-img", "create",
		"-f", "qcow2", "-b", image, "-F", "qcow2", overlay).CombinedOutput()
	if err != nil {
		return nil, errors.Wrap(err, "create overlay disk",
			z.Str("node", spec.Name), z.Str("output", string(bytes.TrimSpace(out))))
	}

	sshPort, err := freePort()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(f.conf.Binary, qemuArgs(spec, f.conf, overlay, filepath.Join(dir, "serial.log"), sshPort)...)

	qemuLog, err := os.Create(filepath.Join(dir, "qemu.log"))
	if err != nil {
		return nil, errors.Wrap(err, "create qemu log", z.Str("node", spec.Name))
	}
	cmd.Stdout = qemuLog
	cmd.Stderr = qemuLog

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start qemu", z.Str("node", spec.Name))
	}

	node := &qemuNode{
		sshNode: sshNode{
			name:        spec.Name,
			waitTimeout: f.conf.WaitTimeout,
			clock:       f.conf.Clock,
		},
		conf:    f.conf,
		cmd:     cmd,
		stopped: make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		_ = qemuLog.Close()
		close(node.stopped)
	}()

	if err := node.dial(ctx, sshPort); err != nil {
		_ = node.Close()
		return nil, errors.Wrap(err, "node did not come up", z.Str("node", spec.Name))
	}

	f.mu.Lock()
	f.nodes = append(f.nodes, node)
	f.mu.Unlock()

	bootDuration.Observe(f.conf.Clock.Since(t0).Seconds())
	log.Info(ctx, "Node booted", z.Str("node", spec.Name), z.Int("ssh_port", sshPort))

	return node, nil
}

// Close releases all booted nodes.
func (f *QEMUFleet) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	for _, node := range f.nodes {
		err = errors.Join(err, node.Close())
	}

	return err
}

// qemuArgs builds the qemu invocation for a node.
func qemuArgs(spec topo.NodeSpec, conf Config, overlay, serialLog string, sshPort int) []string {
	cpus := conf.CPUs
	if spec.CPUs != 0 {
		cpus = spec.CPUs
	}

	mem := conf.MemoryMiB
	if spec.MemoryMiB != 0 {
		mem = spec.MemoryMiB
	}

	args := []string{
		"-name", spec.Name,
		"-m", strconv.Itoa(mem),
		"-smp", strconv.Itoa(cpus),
		"-drive", fmt.Sprintf("if=virtio,file=%s,media=disk", overlay),
		"-device", "virtio-rng-pci,rng=rng0",
		"-object", "rng-random,filename=/dev/urandom,id=rng0",
		"-device", fmt.Sprintf("virtio-net,netdev=mgmt,mac=%s", macAddr(spec.Name, 0)),
		"-netdev", fmt.Sprintf("user,id=mgmt,hostfwd=tcp:127.0.0.1:%d-:22", sshPort),
	}

	for i := 0; i < conf.DataNICs; i++ {
		args = append(args,
			"-device", fmt.Sprintf("virtio-net,netdev=data%d,mac=%s", i, macAddr(spec.Name, i+1)),
			"-netdev", fmt.Sprintf("socket,id=data%d,mcast=%s", i, conf.DataNet),
		)
	}

	if !conf.NoKVM {
		args = append(args, "-enable-kvm")
	}

	args = append(args,
		"-nographic",
		"-serial", "file:"+serialLog,
		"-monitor", "none",
	)

	return args
}

// macAddr returns a stable locally administered MAC for the node's nth NIC.
func macAddr(node string, nic int) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(node))
	sum := h.Sum32()

	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", byte(sum>>8), byte(sum), byte(nic))
}

// freePort reserves an ephemeral localhost port and releases it for qemu.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, errors.Wrap(err, "reserve ssh port")
	}

	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, errors.Wrap(err, "release ssh port")
	}

	return port, nil
}

type qemuNode struct {
	sshNode

	conf Config
	cmd  *exec.Cmd

	stopped chan struct{}

	closeMu sync.Mutex
	closed  bool
}

// dial blocks until the forwarded ssh endpoint accepts a session or the
// boot timeout elapses.
func (n *qemuNode) dial(ctx context.Context, port int) error {
	sshConf, err := clientConfig(n.conf.User, n.conf.Password, n.conf.KeyFile, time.Second)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)

	return Await(ctx, n.conf.Clock, dialInterval, n.conf.BootTimeout, func(context.Context) (bool, error) {
		select {
		case <-n.stopped:
			return false, errors.New("qemu exited during boot", z.Str("node", n.name))
		default:
		}

		client, err := ssh.Dial("tcp", addr, sshConf)
		if err != nil {
			return false, nil
		}

		n.setClient(client)

		return true, nil
	})
}

func (n *qemuNode) Close() error {
	n.closeMu.Lock()
	defer n.closeMu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	_ = n.closeClient()

	if n.cmd.Process != nil {
		_ = n.cmd.Process.Kill()
		<-n.stopped
	}

	return nil
}
