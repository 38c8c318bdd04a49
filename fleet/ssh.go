// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package fleet

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ssh"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/z"
)

// sshNode executes commands on a node over an established ssh connection.
// It implements everything of Node except lifecycle, owners wrap it and
// decide what Close means.
type sshNode struct {
	name        string
	waitTimeout time.Duration
	clock       clockwork.Clock

	mu     sync.Mutex
	client *ssh.Client
}

func (n *sshNode) Name() string {
	return n.name
}

func (n *sshNode) setClient(client *ssh.Client) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.client = client
}

func (n *sshNode) closeClient() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client == nil {
		return nil
	}

	err := n.client.Close()
	n.client = nil

	return err
}

func (n *sshNode) session() (*ssh.Session, error) {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()

	if client == nil {
		return nil, errors.New("node not connected", z.Str("node", n.name))
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "new ssh session", z.Str("node", n.name))
	}

	return sess, nil
}

func (n *sshNode) Exec(ctx context.Context, command string) (ExecResult, error) {
	sess, err := n.session()
	if err != nil {
		return ExecResult{}, err
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	execTotal.WithLabelValues(n.name).Inc()
	log.Debug(ctx, "Exec", z.Str("node", n.name), z.Str("command", command))

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return ExecResult{}, errors.Wrap(ctx.Err(), "exec canceled",
			z.Str("node", n.name), z.Str("command", command))
	case err := <-done:
		res := ExecResult{
			Command: command,
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
		}

		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		} else if err != nil {
			return ExecResult{}, errors.Wrap(err, "ssh exec",
				z.Str("node", n.name), z.Str("command", command))
		}

		return res, nil
	}
}

func (n *sshNode) WriteFile(ctx context.Context, path string, data []byte) error {
	sess, err := n.session()
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.Stdin = bytes.NewReader(data)

	command := fmt.Sprintf("mkdir -p %s && cat > %s", filepath.Dir(path), path)

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return errors.Wrap(ctx.Err(), "write file canceled", z.Str("node", n.name), z.Str("path", path))
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "write file", z.Str("node", n.name), z.Str("path", path))
		}

		return nil
	}
}

func (n *sshNode) ReadFile(ctx context.Context, path string) ([]byte, error) {
	res, err := n.Exec(ctx, "cat "+path)
	if err != nil {
		return nil, err
	}

	if !res.Ok() {
		return nil, errors.New("read file", z.Str("node", n.name),
			z.Str("path", path), z.Str("stderr", res.Stderr))
	}

	return []byte(res.Stdout), nil
}

// WaitForPort polls inside the node until the TCP port accepts connections.
// The service listening is a different question answered by its readiness
// endpoint, this only observes the socket.
func (n *sshNode) WaitForPort(ctx context.Context, port int) error {
	probe := fmt.Sprintf("timeout 1 bash -c '</dev/tcp/127.0.0.1/%d' 2>/dev/null", port)

	return Await(ctx, n.clock, portInterval, n.waitTimeout, func(ctx context.Context) (bool, error) {
		res, err := n.Exec(ctx, probe)
		if err != nil {
			log.Debug(ctx, "Port probe failed", z.Str("node", n.name), z.Err(err))
			return false, nil
		}

		return res.Ok(), nil
	})
}

// clientConfig builds the ssh client config for password and optional
// private key auth.
func clientConfig(user, password, keyFile string, timeout time.Duration) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if keyFile != "" {
		b, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read ssh key", z.Str("file", keyFile))
		}

		signer, err := ssh.ParsePrivateKey(b)
		if err != nil {
			return nil, errors.Wrap(err, "parse ssh key", z.Str("file", keyFile))
		}

		auth = append(auth, ssh.PublicKeys(signer))
	}

	if password != "" {
		auth = append(auth, ssh.Password(password))
	}

	if len(auth) == 0 {
		return nil, errors.New("no ssh auth configured")
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // Throwaway test VMs on localhost.
		Timeout:         timeout,
	}, nil
}

// ConnectConfig configures attaching to an already running node over ssh.
type ConnectConfig struct {
	User     string
	Password string
	// KeyFile optionally adds private key auth to password auth.
	KeyFile string

	DialTimeout time.Duration
	WaitTimeout time.Duration

	Clock clockwork.Clock
}

func (c ConnectConfig) withDefaults() ConnectConfig {
	if c.User == "" {
		c.User = "root"
	}
	if c.Password == "" && c.KeyFile == "" {
		c.Password = "root"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = defaultWait
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return c
}

// ConnectNode attaches to an already running node over ssh, it boots
// nothing. The node is not managed by a fleet, Close only drops the
// connection.
func ConnectNode(ctx context.Context, name, addr string, conf ConnectConfig) (Node, error) {
	conf = conf.withDefaults()

	sshConf, err := clientConfig(conf.User, conf.Password, conf.KeyFile, conf.DialTimeout)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: conf.DialTimeout}

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial node", z.Str("node", name), z.Str("addr", addr))
	}

	conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConf)
	if err != nil {
		_ = netConn.Close()
		return nil, errors.Wrap(err, "ssh handshake", z.Str("node", name), z.Str("addr", addr))
	}

	node := &connectedNode{sshNode: sshNode{
		name:        name,
		waitTimeout: conf.WaitTimeout,
		clock:       conf.Clock,
	}}
	node.setClient(ssh.NewClient(conn, chans, reqs))

	log.Info(ctx, "Node connected", z.Str("node", name), z.Str("addr", addr))

	return node, nil
}

type connectedNode struct {
	sshNode
}

func (n *connectedNode) Close() error {
	return n.closeClient()
}
