// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package formation

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/featureset"
	"github.com/quoratelab/quorate/app/forkjoin"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/tracer"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/fleet"
	"github.com/quoratelab/quorate/netconf"
	"github.com/quoratelab/quorate/topo"
)

// ErrPhaseTimeout is returned when a formation phase exceeds its budget.
// There is no rollback, the run aborts after diagnostics.
var ErrPhaseTimeout = errors.NewSentinel("formation phase timeout")

// Config configures a formation run.
type Config struct {
	Profile topo.Profile
	Nodes   []topo.NodeSpec
	Service ServiceSpec
	Netconf netconf.Config

	BootTimeout    time.Duration
	NetconfTimeout time.Duration
	InitTimeout    time.Duration
	JoinTimeout    time.Duration
	SettleTimeout  time.Duration
	PollInterval   time.Duration

	Clock clockwork.Clock
}

func (c Config) withDefaults() Config {
	if c.Service.APIPort == 0 {
		c.Service = DefaultServiceSpec()
	}
	if c.BootTimeout == 0 {
		c.BootTimeout = 5 * time.Minute
	}
	if c.NetconfTimeout == 0 {
		c.NetconfTimeout = 3 * time.Minute
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 5 * time.Minute
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = 5 * time.Minute
	}
	if c.SettleTimeout == 0 {
		c.SettleTimeout = 2 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return c
}

// Diagnoser collects diagnostics bundles from booted nodes when a run fails.
type Diagnoser interface {
	CollectAll(ctx context.Context, nodes map[string]fleet.Node,
		transcripts map[string]netconf.Transcript, reason string) (string, error)
}

// Driver forms a cluster on a fleet according to a topology profile. Boot is
// the only phase that runs nodes in parallel by default, the join protocol
// is strictly ordered: primary init, then secondaries one by one, then
// agents once every server is ready.
type Driver struct {
	conf      Config
	fleet     fleet.Fleet
	netconf   netconf.Configurator
	diagnoser Diagnoser
	tracker   *Tracker

	primary topo.NodeSpec
	token   Token

	mu          sync.Mutex
	nodes       map[string]fleet.Node
	transcripts map[string]netconf.Transcript
}

// NewDriver returns a new formation driver. The diagnoser may be nil.
func NewDriver(conf Config, fl fleet.Fleet, diagnoser Diagnoser) *Driver {
	conf = conf.withDefaults()

	return &Driver{
		conf:        conf,
		fleet:       fl,
		netconf:     netconf.NewConfigurator(conf.Netconf),
		diagnoser:   diagnoser,
		tracker:     NewTracker(conf.Nodes),
		nodes:       make(map[string]fleet.Node),
		transcripts: make(map[string]netconf.Transcript),
	}
}

// Tracker returns the node state tracker.
func (d *Driver) Tracker() *Tracker {
	return d.tracker
}

// Nodes returns the booted nodes by name.
func (d *Driver) Nodes() map[string]fleet.Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := make(map[string]fleet.Node, len(d.nodes))
	for name, node := range d.nodes {
		resp[name] = node
	}

	return resp
}

// Transcripts returns the netconf transcripts by node name.
func (d *Driver) Transcripts() map[string]netconf.Transcript {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := make(map[string]netconf.Transcript, len(d.transcripts))
	for name, transcript := range d.transcripts {
		resp[name] = transcript
	}

	return resp
}

// Run forms the cluster. A failing phase aborts the run after collecting
// diagnostics from whatever booted.
func (d *Driver) Run(ctx context.Context) (err error) {
	ctx = log.WithTopic(ctx, "formation")

	defer func() {
		if err != nil {
			d.diagnose(ctx, err)
		}
	}()

	// Configuration defects abort before anything boots.
	if err = d.conf.Profile.Validate(d.conf.Nodes); err != nil {
		return err
	}

	d.primary, err = topo.Primary(d.conf.Nodes)
	if err != nil {
		return err
	}

	log.Info(ctx, "Starting formation",
		z.Str("topology", d.conf.Profile.String()),
		z.Int("nodes", len(d.conf.Nodes)),
		z.Str("primary", d.primary.Name))

	if err = d.runPhase(ctx, "boot", d.conf.BootTimeout, d.boot); err != nil {
		return err
	}
	if err = d.runPhase(ctx, "netconf", d.conf.NetconfTimeout, d.configureNetwork); err != nil {
		return err
	}
	if err = d.runPhase(ctx, "primary_init", d.conf.InitTimeout, d.initPrimary); err != nil {
		return err
	}
	if err = d.runPhase(ctx, "secondary_join", d.conf.JoinTimeout, d.joinSecondaries); err != nil {
		return err
	}
	if err = d.runPhase(ctx, "agent_join", d.conf.JoinTimeout, d.joinAgents); err != nil {
		return err
	}
	if err = d.runPhase(ctx, "settle", d.conf.SettleTimeout, d.settle); err != nil {
		return err
	}

	if _, bonded := d.conf.Profile.BondSpec(); bonded && featureset.Enabled(featureset.BondFailover) {
		if err = d.runPhase(ctx, "bond_failover", d.conf.SettleTimeout, d.bondFailover); err != nil {
			return err
		}
	}

	log.Info(ctx, "Cluster formed", z.Int("ready", d.tracker.CountIn(StateReady)))

	return nil
}

func (d *Driver) runPhase(ctx context.Context, phase string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "formation/"+phase)
	defer span.End()

	t0 := d.conf.Clock.Now()
	log.Info(ctx, "Phase started", z.Str("phase", phase))

	err := fn(ctx)

	duration := d.conf.Clock.Since(t0)
	phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())

	if err != nil {
		phaseErrors.WithLabelValues(phase).Inc()

		if errors.Is(err, fleet.ErrWaitTimeout) || errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(ErrPhaseTimeout, err)
		}

		return errors.Wrap(err, "formation phase", z.Str("phase", phase))
	}

	log.Info(ctx, "Phase completed", z.Str("phase", phase),
		z.Str("duration", topo.RoundDuration(topo.Duration{Duration: duration}).String()))

	return nil
}

func (d *Driver) node(name string) fleet.Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.nodes[name]
}

// boot starts all nodes in parallel and fails fast on the first boot error.
func (d *Driver) boot(ctx context.Context) error {
	results, cancel := forkjoin.NewWithInputs(ctx,
		func(ctx context.Context, spec topo.NodeSpec) (fleet.Node, error) {
			if err := d.tracker.Transition(ctx, spec.Name, StateBooting); err != nil {
				return nil, err
			}

			return d.fleet.Boot(ctx, spec)
		}, d.conf.Nodes)
	defer cancel()

	var firstErr error

	for res := range results {
		if res.Err != nil {
			if firstErr == nil || errors.Is(firstErr, context.Canceled) {
				firstErr = errors.Wrap(res.Err, "boot node", z.Str("node", res.Input.Name))
			}

			_ = d.tracker.Transition(ctx, res.Input.Name, StateFailed)

			continue
		}

		d.mu.Lock()
		d.nodes[res.Input.Name] = res.Output
		d.mu.Unlock()
	}

	return firstErr
}

// configureNetwork applies the topology plan to every node, sequentially
// unless the parallel netconf feature is enabled.
func (d *Driver) configureNetwork(ctx context.Context) error {
	apply := func(ctx context.Context, spec topo.NodeSpec) (netconf.Transcript, error) {
		transcript, err := d.netconf.Apply(ctx, d.node(spec.Name), d.conf.Profile)

		d.mu.Lock()
		d.transcripts[spec.Name] = transcript
		d.mu.Unlock()

		if err != nil {
			_ = d.tracker.Transition(ctx, spec.Name, StateFailed)
			return nil, err
		}

		return transcript, d.tracker.Transition(ctx, spec.Name, StateNetworkConfigured)
	}

	if featureset.Enabled(featureset.ParallelNetconf) {
		results, cancel := forkjoin.NewWithInputs(ctx, apply, d.conf.Nodes)
		defer cancel()

		_, err := results.Flatten()

		return err
	}

	for _, spec := range d.conf.Nodes {
		if _, err := apply(ctx, spec); err != nil {
			return err
		}
	}

	return nil
}

// initPrimary brings up the primary server and waits until it is the first
// ready member of its own registry.
func (d *Driver) initPrimary(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = d.tracker.Transition(ctx, d.primary.Name, StateFailed)
		}
	}()

	node := d.node(d.primary.Name)

	conf, err := d.conf.Service.ServerConfig(d.primary, d.conf.Profile, "", "")
	if err != nil {
		return err
	}

	if err := d.startService(ctx, node, d.primary, conf); err != nil {
		return err
	}

	if err := node.WaitForPort(ctx, d.conf.Service.APIPort); err != nil {
		return errors.Wrap(err, "primary api port", z.Str("node", d.primary.Name))
	}

	if err := d.awaitReadyEndpoint(ctx, node); err != nil {
		return errors.Wrap(err, "primary readiness", z.Str("node", d.primary.Name))
	}

	if err := d.readToken(ctx, node); err != nil {
		return err
	}

	return d.awaitRegistryReady(ctx, d.primary.Name)
}

// joinSecondaries joins the remaining servers one at a time, each must turn
// ready in the primary's registry before the next one starts.
func (d *Driver) joinSecondaries(ctx context.Context) error {
	joinURL, err := d.joinURL()
	if err != nil {
		return err
	}

	for _, spec := range d.conf.Nodes {
		if spec.Role != topo.RoleServer || spec.Primary {
			continue
		}

		conf, err := d.conf.Service.ServerConfig(spec, d.conf.Profile, joinURL, d.token)
		if err != nil {
			return err
		}

		if err := d.startAndJoin(ctx, spec, conf); err != nil {
			return err
		}
	}

	return nil
}

// joinAgents joins all agents. Agents only start once every server is ready
// so they never race control plane convergence.
func (d *Driver) joinAgents(ctx context.Context) error {
	for _, spec := range d.conf.Nodes {
		if spec.Role == topo.RoleServer && d.tracker.State(spec.Name) != StateReady {
			return errors.New("agents require all servers ready",
				z.Str("server", spec.Name), z.Str("state", d.tracker.State(spec.Name).String()))
		}
	}

	joinURL, err := d.joinURL()
	if err != nil {
		return err
	}

	for _, spec := range d.conf.Nodes {
		if spec.Role != topo.RoleAgent {
			continue
		}

		conf, err := d.conf.Service.AgentConfig(spec, d.conf.Profile, joinURL, d.token)
		if err != nil {
			return err
		}

		if err := d.startAndJoin(ctx, spec, conf); err != nil {
			return err
		}
	}

	return nil
}

// startAndJoin starts the service on one node and waits for it to turn
// ready in the registry, marking the node failed on error.
func (d *Driver) startAndJoin(ctx context.Context, spec topo.NodeSpec, conf []byte) error {
	if err := d.startService(ctx, d.node(spec.Name), spec, conf); err != nil {
		_ = d.tracker.Transition(ctx, spec.Name, StateFailed)
		return err
	}

	if err := d.awaitRegistryReady(ctx, spec.Name); err != nil {
		_ = d.tracker.Transition(ctx, spec.Name, StateFailed)
		return err
	}

	return nil
}

// settle waits for the registry to report every node ready at once.
func (d *Driver) settle(ctx context.Context) error {
	err := fleet.Await(ctx, d.conf.Clock, d.conf.PollInterval, d.conf.SettleTimeout,
		d.registryAllReady())
	if err != nil {
		return errors.Wrap(err, "registry settle")
	}

	log.Info(ctx, "Registry settled", z.Int("nodes", len(d.conf.Nodes)))

	return nil
}

// bondFailover drops the first bond member on the primary and requires the
// registry to hold full readiness while traffic fails over to the backup.
func (d *Driver) bondFailover(ctx context.Context) error {
	bond, ok := d.conf.Profile.BondSpec()
	if !ok {
		return errors.New("bond failover requires a bonded topology")
	}

	member := bond.Members[0]
	node := d.node(d.primary.Name)

	log.Info(ctx, "Dropping bond member", z.Str("node", d.primary.Name), z.Str("member", member))

	res, err := node.Exec(ctx, "ip link set dev "+member+" down")
	if err != nil {
		return errors.Wrap(err, "drop bond member", z.Str("member", member))
	} else if !res.Ok() {
		return errors.New("drop bond member", z.Str("member", member), z.Str("output", res.Output()))
	}

	defer func() {
		// Restore the member even when the check fails.
		if _, err := node.Exec(ctx, "ip link set dev "+member+" up"); err != nil {
			log.Warn(ctx, "Restoring bond member failed", err, z.Str("member", member))
		}
	}()

	err = fleet.Await(ctx, d.conf.Clock, d.conf.PollInterval, d.conf.SettleTimeout,
		d.registryAllReady())
	if err != nil {
		return errors.Wrap(err, "registry during bond failover", z.Str("member", member))
	}

	log.Info(ctx, "Bond failover held", z.Str("member", member))

	return nil
}

// startService writes the service config and starts the unit for the node.
func (d *Driver) startService(ctx context.Context, node fleet.Node, spec topo.NodeSpec, conf []byte) error {
	if err := d.tracker.Transition(ctx, spec.Name, StateServiceStarting); err != nil {
		return err
	}

	path := d.conf.Service.ConfigPath

	if err := node.WriteFile(ctx, path, conf); err != nil {
		return err
	}

	// The config embeds the cluster token, keep it off other users.
	res, err := node.Exec(ctx, "chmod 600 "+path)
	if err != nil {
		return err
	} else if !res.Ok() {
		return errors.New("chmod service config", z.Str("node", spec.Name), z.Str("output", res.Output()))
	}

	res, err = node.Exec(ctx, d.conf.Service.StartCmd(spec.Role))
	if err != nil {
		return err
	} else if !res.Ok() {
		return errors.New("start service unit", z.Str("node", spec.Name),
			z.Str("unit", d.conf.Service.UnitName(spec.Role)), z.Str("output", res.Output()))
	}

	log.Info(ctx, "Service unit started", z.Str("node", spec.Name),
		z.Str("unit", d.conf.Service.UnitName(spec.Role)))

	return nil
}

// awaitReadyEndpoint polls the readiness endpoint of a server node.
func (d *Driver) awaitReadyEndpoint(ctx context.Context, node fleet.Node) error {
	cmd := d.conf.Service.ReadyCmd()

	return fleet.Await(ctx, d.conf.Clock, d.conf.PollInterval, d.conf.InitTimeout,
		func(ctx context.Context) (bool, error) {
			res, err := node.Exec(ctx, cmd)
			if err != nil {
				log.Debug(ctx, "Readiness probe failed", z.Str("node", node.Name()), z.Err(err))
				return false, nil
			}

			return res.Ok(), nil
		})
}

// readToken reads the cluster token from the primary over the mgmt channel.
// The token never crosses the data network.
func (d *Driver) readToken(ctx context.Context, node fleet.Node) error {
	path := d.conf.Service.TokenPath

	err := fleet.Await(ctx, d.conf.Clock, d.conf.PollInterval, d.conf.InitTimeout,
		func(ctx context.Context) (bool, error) {
			b, err := node.ReadFile(ctx, path)
			if err != nil {
				log.Debug(ctx, "Token not minted yet", z.Str("node", node.Name()), z.Err(err))
				return false, nil
			}

			token, ok := ParseToken(b)
			if !ok {
				return false, nil
			}

			d.token = token

			return true, nil
		})
	if err != nil {
		return errors.Wrap(err, "read cluster token", z.Str("node", node.Name()))
	}

	log.Info(ctx, "Cluster token minted", z.Str("token", d.token.Redacted()))

	return nil
}

// awaitRegistryReady polls the primary's registry until the named node
// reports ready. Local unit state on the joining node is not consulted.
func (d *Driver) awaitRegistryReady(ctx context.Context, name string) error {
	primaryNode := d.node(d.primary.Name)
	cmd := d.conf.Service.NodesCmd()

	err := fleet.Await(ctx, d.conf.Clock, d.conf.PollInterval, d.conf.JoinTimeout,
		func(ctx context.Context) (bool, error) {
			nodes, ok := d.registryNodes(ctx, primaryNode, cmd)
			if !ok {
				return false, nil
			}

			rn, ok := FindNode(nodes, name)
			if !ok {
				return false, nil
			}

			if d.tracker.State(name) == StateServiceStarting {
				if err := d.tracker.Transition(ctx, name, StateJoined); err != nil {
					return false, err
				}
			}

			if !rn.Ready {
				return false, nil
			}

			if d.tracker.State(name) == StateJoined {
				if err := d.tracker.Transition(ctx, name, StateReady); err != nil {
					return false, err
				}
			}

			return true, nil
		})
	if err != nil {
		return errors.Wrap(err, "node not ready in registry", z.Str("node", name))
	}

	return nil
}

// registryAllReady returns a poll condition that holds when every node is
// ready in the primary's registry.
func (d *Driver) registryAllReady() func(context.Context) (bool, error) {
	primaryNode := d.node(d.primary.Name)
	cmd := d.conf.Service.NodesCmd()
	want := len(d.conf.Nodes)

	return func(ctx context.Context) (bool, error) {
		nodes, ok := d.registryNodes(ctx, primaryNode, cmd)
		if !ok {
			return false, nil
		}

		ready := CountReady(nodes)
		log.Debug(ctx, "Registry readiness", z.Int("ready", ready), z.Int("want", want))

		return ready == want, nil
	}
}

func (d *Driver) registryNodes(ctx context.Context, primaryNode fleet.Node, cmd string) ([]RegistryNode, bool) {
	res, err := primaryNode.Exec(ctx, cmd)
	if err != nil || !res.Ok() {
		log.Debug(ctx, "Registry query failed", z.Err(err))
		return nil, false
	}

	nodes, err := ParseNodes(res.Stdout)
	if err != nil {
		log.Debug(ctx, "Registry parse failed", z.Err(err))
		return nil, false
	}

	return nodes, true
}

func (d *Driver) joinURL() (string, error) {
	addr, err := d.conf.Profile.AddressFor(d.primary.Name, topo.IfaceCluster)
	if err != nil {
		return "", err
	}

	return d.conf.Service.JoinURL(addr.Addr()), nil
}

// diagnose collects diagnostics from booted nodes before the run aborts.
func (d *Driver) diagnose(ctx context.Context, cause error) {
	if d.diagnoser == nil {
		return
	}

	nodes := d.Nodes()
	if len(nodes) == 0 {
		return
	}

	bundle, err := d.diagnoser.CollectAll(ctx, nodes, d.Transcripts(), cause.Error())
	if err != nil {
		log.Warn(ctx, "Diagnostics incomplete", err, z.Str("bundle", bundle))
		return
	}

	log.Info(ctx, "Diagnostics collected", z.Str("bundle", bundle))
}
