package dna

import (
	"context"
	"net"
	"sync"

	"github.com/cloudflare/circl/sign"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/config"
	"github.com/dnanet/dna/contact"
	"github.com/dnanet/dna/dht"
	"github.com/dnanet/dna/dnaerr"
	"github.com/dnanet/dna/group"
	"github.com/dnanet/dna/identity"
	"github.com/dnanet/dna/message"
	"github.com/dnanet/dna/store"
	"github.com/dnanet/dna/transport"
)

// State is the engine's lifecycle state (spec section 4.5).
type State int

const (
	StateUninitialized State = iota
	StateBootstrapped
	StateIdentityLoaded
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapped:
		return "bootstrapped"
	case StateIdentityLoaded:
		return "identity_loaded"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Options configures a new Engine (spec section 6's create(data_dir) plus
// the config-file keys of the same section).
type Options struct {
	DataDir    string
	Config     config.Config
	ListenAddr string // UDP listen address for the direct transport tier
}

// Engine is the single process-wide owner of one identity's background
// threads, network sockets, and open databases (spec section 4.5, section
// 9's "global state" note). It plays the role the teacher's Tox facade
// plays for its own protocol stack.
type Engine struct {
	mu    sync.Mutex
	state State

	opts Options

	id *identity.Identity

	dataStore *store.Store
	contacts  *contact.Manager
	messages  *message.Store
	groups    *group.Store

	overlay   *dht.Store
	routing   *dht.RoutingTable
	names     *dht.NameRegistry
	bootstrap *dht.BootstrapManager

	udp       *transport.UDPTransport
	transport *transport.Manager

	eventMu sync.Mutex
	onEvent func(Event)

	sendQueue chan sendRequest
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

type sendRequest struct {
	recipientFP string
	plaintext   []byte
	result      chan error
}

// Create brings up an engine for dataDir: builds the DHT routing table,
// opens the UDP transport, and prepares a bootstrap manager for the
// configured seed nodes, then enters Bootstrapped. It does not load an
// identity, does not contact the seed nodes, and starts no background
// workers; Run starts the workers.
func Create(opts Options) (*Engine, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Create", "package": "dna"})

	if opts.Config.MessageQueueCapacity == 0 {
		opts.Config = config.Default()
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = "0.0.0.0:0"
	}

	e := &Engine{
		opts:      opts,
		state:     StateUninitialized,
		routing:   dht.NewRoutingTable(selfRoutingID(opts)),
		stopCh:    make(chan struct{}),
		sendQueue: make(chan sendRequest, opts.Config.MessageQueueCapacity),
	}

	udp, err := transport.NewUDPTransport(opts.ListenAddr)
	if err != nil {
		return nil, err
	}
	e.udp = udp

	bootstrapSeeds := make([]net.Addr, 0, len(opts.Config.BootstrapNodes))
	for _, addrStr := range opts.Config.BootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp", addrStr)
		if err != nil {
			logger.WithError(err).WithField("address", addrStr).Warn("skipping unresolvable bootstrap address")
			continue
		}
		bootstrapSeeds = append(bootstrapSeeds, addr)
	}
	e.bootstrap = dht.NewBootstrapManager(udp, e.routing, bootstrapSeeds, 1)

	e.state = StateBootstrapped
	logger.Info("engine bootstrapped")
	return e, nil
}

// selfRoutingID derives a stable placeholder routing-table ID for the
// pre-identity bootstrap phase; once an identity is loaded the DHT
// overlay addresses records by fingerprint, not by this ID.
func selfRoutingID(opts Options) dht.ID {
	return dht.DeriveKey(dht.RecordTypeKey, opts.DataDir)
}

// LoadIdentity loads fingerprint's key material, opens its per-identity
// databases, and announces presence (spec section 4.5: load_identity →
// IdentityLoaded). No inbox subscription is registered; queued envelopes
// are collected by the inbox poller or CheckOfflineMessages.
func (e *Engine) LoadIdentity(fingerprint string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateBootstrapped {
		return dnaerr.New(dnaerr.KindPermission, "Engine.LoadIdentity", "identity can only be loaded from the bootstrapped state")
	}

	id, err := identity.Load(e.opts.DataDir, fingerprint)
	if err != nil {
		return err
	}

	idDir, err := identity.Dir(e.opts.DataDir, fingerprint)
	if err != nil {
		return err
	}
	dataStore, err := store.Open(idDir)
	if err != nil {
		return err
	}

	e.id = id
	e.dataStore = dataStore
	e.contacts = contact.NewManager(dataStore)
	e.messages = message.NewStore(dataStore)

	e.overlay = dht.NewStore(e.makeAuthorResolver())
	e.names = dht.NewNameRegistry(e.overlay)
	e.groups = group.NewStore(dataStore, e.overlay)

	e.transport = transport.NewManager(e.udp, nil, e.makeSpillwayWriter())
	e.transport.SetEnvelopeHandler(e.handleInboundEnvelope)

	if err := dht.PublishPresence(e.overlay, id.Signing, id.Fingerprint, []string{e.udp.LocalAddr().String()}); err != nil {
		return err
	}

	e.state = StateIdentityLoaded
	logrus.WithFields(logrus.Fields{
		"function": "Engine.LoadIdentity", "package": "dna", "fingerprint": shortFP(fingerprint),
	}).Info("identity loaded")
	return nil
}

// makeAuthorResolver returns the DHT's signature-verification key lookup,
// backed by the local contact list plus the identity's own public key.
func (e *Engine) makeAuthorResolver() dht.AuthorKeyResolver {
	return func(fp string) (sign.PublicKey, error) {
		if e.id != nil && fp == e.id.Fingerprint {
			return e.id.Signing.Public, nil
		}
		c, err := e.contacts.Get(fp)
		if err != nil {
			return nil, err
		}
		return c.SigningPub, nil
	}
}

// makeSpillwayWriter returns the tier-3 fallback that queues an envelope
// into the recipient's offline DHT inbox when direct and relay delivery
// both fail.
func (e *Engine) makeSpillwayWriter() transport.SpillwayWriter {
	return func(ctx context.Context, recipientFP string, env []byte) error {
		return dht.EnqueueSpillway(e.overlay, e.id.Signing, e.id.Fingerprint, recipientFP, e.id.Fingerprint, env)
	}
}

// Run transitions the engine into its steady running state, starting the
// presence refresher, inbox poller, and send-queue worker (spec section
// 4.5: first background tick → Running).
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdentityLoaded {
		e.mu.Unlock()
		return dnaerr.New(dnaerr.KindPermission, "Engine.Run", "an identity must be loaded before running")
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.wg.Add(3)
	go e.presenceRefreshLoop(ctx)
	go e.inboxPollLoop(ctx)
	go e.sendQueueLoop(ctx)

	logrus.WithFields(logrus.Fields{"function": "Engine.Run", "package": "dna"}).Info("engine running")
	return nil
}

// Destroy stops every background worker and closes the UDP socket and
// database handles (spec section 4.5: destroy() → ShuttingDown →
// Terminated). The loaded identity's key material is not wiped.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	if e.state == StateTerminated {
		e.mu.Unlock()
		return nil
	}
	e.state = StateShuttingDown
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()

	if e.udp != nil {
		e.udp.Close()
	}
	var closeErr error
	if e.dataStore != nil {
		closeErr = e.dataStore.Close()
	}

	e.mu.Lock()
	e.state = StateTerminated
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{"function": "Engine.Destroy", "package": "dna"}).Info("engine terminated")
	return closeErr
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// GetFingerprint returns the loaded identity's fingerprint.
func (e *Engine) GetFingerprint() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.id == nil {
		return "", dnaerr.NotInitialized("Engine.GetFingerprint")
	}
	return e.id.Fingerprint, nil
}

// SetEventCallback registers the single callback the engine delivers
// asynchronous events through (spec section 9: capability passed at
// construction, mutex-guarded exactly as the transport callback is).
func (e *Engine) SetEventCallback(fn func(Event)) {
	e.eventMu.Lock()
	defer e.eventMu.Unlock()
	e.onEvent = fn
}

func (e *Engine) emit(ev Event) {
	e.eventMu.Lock()
	cb := e.onEvent
	e.eventMu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func shortFP(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}

