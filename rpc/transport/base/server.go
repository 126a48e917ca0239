package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	streamHandler     transport.ServerStreamFunc
	config            common.ServerConfig
	bufferPool        *sync.Pool
	maxWorkersPerConn int

	mu       sync.Mutex
	listener net.Listener
	closed   atomic.Bool
	conns    *xsync.MapOf[uint64, net.Conn]
	nextConn atomic.Uint64
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool.
// The number of workers per connection is taken from the server config passed to Listen
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     xsync.NewMapOf[uint64, net.Conn](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) RegisterStreamHandler(handler transport.ServerStreamFunc) {
	t.streamHandler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// minimum one worker per connection
	t.maxWorkersPerConn = max(config.Transport.WorkersPerConn, 1)

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		return listener.Close()
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), config.Transport.Endpoint, t.maxWorkersPerConn)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

func (t *serverTransport) Close() error {
	t.closed.Store(true)

	t.mu.Lock()
	listener := t.listener
	t.listener = nil
	t.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	// Closing the connections ends their read loops and cancels open streams
	t.conns.Range(func(_ uint64, conn net.Conn) bool {
		_ = conn.Close()
		return true
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection handles incoming frames for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	connID := t.nextConn.Add(1)
	t.conns.Store(connID, conn)
	defer func() {
		t.conns.Delete(connID)
		_ = conn.Close()
	}()

	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		Logger.Errorf("Failed to upgrade connection: %v", err)
		return
	}

	// Timeout in seconds (only used for writes, clients with an open stream are idle on the read side)
	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	// Create a semaphore to limit concurrent unary workers for this connection
	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)

	// Create a wait group to wait for all workers and streams to finish
	var wg sync.WaitGroup

	// Create a mutex to protect writes to the connection
	var connMutex sync.Mutex

	// All streams of this connection end when the connection ends
	connCtx, cancelConn := context.WithCancel(context.Background())
	streams := xsync.NewMapOf[uint64, context.CancelFunc]()

	write := func(kind frameKind, requestID uint64, data []byte) error {
		connMutex.Lock()
		defer connMutex.Unlock()

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return fmt.Errorf("failed to set write deadline: %v", err)
			}
		}
		return writeFrame(conn, kind, requestID, data)
	}

	// Handler function that processes unary requests in worker goroutines
	handleResponse := func(requestID uint64, data []byte) {
		// When done, release the semaphore and mark worker as done
		defer func() {
			<-workerSemaphore // Release semaphore slot
			wg.Done()         // Mark worker as done
		}()

		var resp []byte
		if t.handler == nil {
			Logger.Errorf("No handler registered, dropping request %d", requestID)
		} else {
			start := time.Now()
			resp = t.handler(data)
			Logger.Debugf("Processed request %d took %s", requestID, time.Since(start))
		}

		// Write the response with the same requestID
		if err := write(frameResponse, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
	}

	// Handler function that runs a stream until the handler returns or the client cancels it
	handleStream := func(requestID uint64, data []byte) {
		defer wg.Done()

		ctx, cancel := context.WithCancel(connCtx)
		streams.Store(requestID, cancel)
		defer func() {
			streams.Delete(requestID)
			cancel()
		}()

		var err error
		if t.streamHandler == nil {
			err = fmt.Errorf("streams are not supported by this server")
		} else {
			err = t.streamHandler(ctx, data, func(frame []byte) error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return write(frameStreamData, requestID, frame)
			})
		}

		// A cancelled stream has no reader left
		if ctx.Err() != nil {
			Logger.Debugf("Stream %d cancelled", requestID)
			return
		}

		var text []byte
		if err != nil {
			text = []byte(err.Error())
		}
		if err := write(frameStreamEnd, requestID, text); err != nil {
			Logger.Errorf("Failed to end stream %d: %v", requestID, err)
		}
	}

	// Function to handle one incoming frame
	handleFrame := func() error {
		// Get a buffer from the pool
		buf := t.bufferPool.Get().([]byte)

		kind, requestID, data, err := readFrame(conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			return err
		}

		switch kind {
		case frameRequest:
			// Acquire a slot in the semaphore (blocks if maxWorkersPerConn is reached)
			workerSemaphore <- struct{}{}
			wg.Add(1)

			go func() {
				defer t.bufferPool.Put(buf)
				handleResponse(requestID, data)
			}()

		case frameStreamOpen:
			// Streams live long, they must not hold a pooled buffer
			req := append([]byte(nil), data...)
			t.bufferPool.Put(buf)

			wg.Add(1)
			go handleStream(requestID, req)

		case frameStreamCancel:
			t.bufferPool.Put(buf)
			if cancel, ok := streams.LoadAndDelete(requestID); ok {
				cancel()
			}

		default:
			t.bufferPool.Put(buf)
			Logger.Warningf("Ignoring unexpected %s frame with request ID %d", kind, requestID)
		}
		return nil
	}

	// Handle frames in a loop
	for {
		err := handleFrame()

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Debugf("Connection closed by client")
			break
		}

		// Case error: log and close connection
		if err != nil {
			if !t.closed.Load() {
				Logger.Errorf("Error handling request: %v", err)
			}
			break
		}
	}

	// Stop all streams, then wait for in-progress work before closing the connection
	cancelConn()
	wg.Wait()
}
