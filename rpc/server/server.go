package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dChat/lib/auth"
	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/ValentinKolb/dChat/lib/delivery"
	"github.com/ValentinKolb/dChat/lib/persist"
	"github.com/ValentinKolb/dChat/lib/replication"
	"github.com/ValentinKolb/dChat/rpc/client"
	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/serializer"
	"github.com/ValentinKolb/dChat/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// PeerTransportFactory creates a fresh client transport for one connection to a peer
type PeerTransportFactory func() transport.IRPCClientTransport

// NewRPCServer creates a new RPC server for one chat node
// It takes a config, the server transport, a serializer and a factory for the
// client transports used to replicate to followers (same kind as the server transport)
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//		tcp.NewTCPClientTransport,
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	peerTransport PeerTransportFactory,
) *rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &rpcServer{
		config:        config,
		transport:     transport,
		serializer:    serializer,
		peerTransport: peerTransport,
	}
}

type rpcServer struct {
	config        common.ServerConfig
	transport     transport.IRPCServerTransport
	serializer    serializer.IRPCSerializer
	peerTransport PeerTransportFactory

	fsm         *chat.StateMachine
	coordinator *replication.Coordinator
	registry    *delivery.Registry
	persistence *persist.Manager
	adapter     IRPCServerAdapter

	metricsServer *http.Server
	closeOnce     sync.Once
}

// Serve starts the RPC server
// This function will also initialize the node (state, persistence, replication) and
// blocks in the transport layer until Close is called
func (s *rpcServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport, drains the replication queues and closes the snapshot store
func (s *rpcServer) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transport: %w", err))
		}
		if s.coordinator != nil {
			if err := s.coordinator.Close(); err != nil {
				errs = append(errs, fmt.Errorf("replication: %w", err))
			}
		}
		if s.persistence != nil {
			if err := s.persistence.Close(); err != nil {
				errs = append(errs, fmt.Errorf("persistence: %w", err))
			}
		}
		if s.metricsServer != nil {
			if err := s.metricsServer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("metrics: %w", err))
			}
		}
		Logger.Infof("node %d stopped", s.config.NodeID)
	})
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *rpcServer) init() error {
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}
	Logger.Infof("Created RPC Server")
	Logger.Infof(s.config.String())

	// Replication
	peers := make([]replication.Peer, 0, len(s.config.Peers))
	for id, addr := range s.config.Peers {
		peers = append(peers, replication.Peer{ID: id, Address: addr})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })

	coordinator, err := replication.NewCoordinator(s.config.NodeID, peers, s.dialPeer)
	if err != nil {
		return fmt.Errorf("failed to create replication coordinator: %w", err)
	}
	s.coordinator = coordinator
	s.registry = delivery.NewRegistry()

	opts := chat.Options{
		Hasher:    auth.NewBcryptHasher(s.config.BcryptCost),
		Forwarder: coordinator,
		Deliverer: s.registry,
	}

	// Persistence (disabled without a data file)
	if s.config.DataFile != "" {
		store, err := persist.Open(persist.Backend(s.config.Persistence), s.config.DataFile)
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		s.persistence = persist.NewManager(store)
		opts.Persister = s.persistence
	} else {
		Logger.Warningf("no data file configured, state is kept in memory only")
	}

	s.fsm = chat.NewStateMachine(opts)

	if s.persistence != nil {
		snapshot, found, err := s.persistence.Load()
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		if found {
			s.fsm.Restore(snapshot)
			Logger.Infof("restored %d accounts and %d conversations from %s",
				len(snapshot.Users), len(snapshot.Conversations), s.config.DataFile)
		}
	}

	coordinator.Start()
	s.adapter = NewChatServerAdapter(s.fsm, coordinator, s.registry)
	s.registerTransportHandlers()
	s.startMetrics()

	Logger.Infof("dChat node %d ready as %s", s.config.NodeID, coordinator.Role())
	return nil
}

// dialPeer opens the client used to replicate to one follower
func (s *rpcServer) dialPeer(peer replication.Peer) (replication.IPeerClient, error) {
	if s.peerTransport == nil {
		return nil, fmt.Errorf("no peer transport configured")
	}
	config := common.ClientConfig{
		TimeoutSecond: int(s.config.TimeoutSecond),
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{peer.Address},
			RetryCount:             1,
			ConnectionsPerEndpoint: 1,
			SocketConf:             s.config.Transport.SocketConf,
			TCPConf:                s.config.Transport.TCPConf,
		},
	}
	return client.NewRPCPeer(config, s.peerTransport(), s.serializer)
}

func (s *rpcServer) registerTransportHandlers() {
	s.transport.RegisterHandler(func(req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Decode the request and let the adapter handle it
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			respMsg = s.adapter.Handle(&msg)
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize %s response: %v", respMsg.MsgType, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})

	s.transport.RegisterStreamHandler(func(ctx context.Context, req []byte, send func([]byte) error) error {
		var msg common.Message
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			return fmt.Errorf("failed to deserialize request: %w", err)
		}
		return s.adapter.Stream(ctx, &msg, func(item *common.Message) error {
			b, err := s.serializer.Serialize(*item)
			if err != nil {
				return fmt.Errorf("failed to serialize stream item: %w", err)
			}
			return send(b)
		})
	})
}

// startMetrics exposes the Prometheus metrics on their own listener
func (s *rpcServer) startMetrics() {
	if s.config.MetricsEndpoint == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	s.metricsServer = &http.Server{
		Addr:              s.config.MetricsEndpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		Logger.Infof("Serving metrics on %s/metrics", s.config.MetricsEndpoint)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics listener failed: %v", err)
		}
	}()
}
