package transport_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/transport"
	"github.com/ValentinKolb/dChat/rpc/transport/grpc"
	"github.com/ValentinKolb/dChat/rpc/transport/http"
	"github.com/ValentinKolb/dChat/rpc/transport/tcp"
	"github.com/ValentinKolb/dChat/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportFactory struct {
	server   func() transport.IRPCServerTransport
	client   func() transport.IRPCClientTransport
	endpoint func(t *testing.T) string
}

var factories = map[string]transportFactory{
	"unix": {
		server:   unix.NewUnixDefaultServerTransport,
		client:   unix.NewUnixClientTransport,
		endpoint: func(t *testing.T) string { return filepath.Join(t.TempDir(), "rpc.sock") },
	},
	"tcp": {
		server:   tcp.NewTCPServerTransport,
		client:   tcp.NewTCPClientTransport,
		endpoint: freeAddr,
	},
	"http": {
		server:   http.NewHttpServerTransport,
		client:   http.NewHttpClientTransport,
		endpoint: freeAddr,
	},
	"grpc": {
		server:   grpc.NewGRPCServerTransport,
		client:   grpc.NewGRPCClientTransport,
		endpoint: freeAddr,
	},
}

// freeAddr returns a localhost address that was free a moment ago
func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// streamObserver lets the tests observe the server side of a stream
type streamObserver struct {
	mu        sync.Mutex
	cancelled int
}

func (p *streamObserver) cancels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// startPair starts a server with an echo handler and a stream handler and returns a connected client.
// Stream requests are interpreted as: "count:N" sends N frames, "fail" returns an error,
// "block" sends one frame and waits for cancellation
func startPair(t *testing.T, f transportFactory) (transport.IRPCClientTransport, *streamObserver) {
	t.Helper()
	endpoint := f.endpoint(t)
	obs := &streamObserver{}

	server := f.server()
	server.RegisterHandler(func(req []byte) []byte {
		return append([]byte("echo:"), req...)
	})
	server.RegisterStreamHandler(func(ctx context.Context, req []byte, send func([]byte) error) error {
		var n int
		switch {
		case string(req) == "fail":
			return errors.New("boom")
		case string(req) == "block":
			if err := send([]byte("first")); err != nil {
				return err
			}
			<-ctx.Done()
			obs.mu.Lock()
			obs.cancelled++
			obs.mu.Unlock()
			return ctx.Err()
		default:
			if _, err := fmt.Sscanf(string(req), "count:%d", &n); err != nil {
				return err
			}
		}
		for i := 0; i < n; i++ {
			if err := send([]byte(fmt.Sprintf("frame-%d", i))); err != nil {
				return err
			}
		}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- server.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport:     common.ServerTransportConfig{Endpoint: endpoint, WorkersPerConn: 4},
		})
	}()

	client := f.client()
	clientConfig := common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{endpoint}, RetryCount: 1},
	}

	// wait until the server answers
	require.Eventually(t, func() bool {
		if err := client.Connect(clientConfig); err != nil {
			return false
		}
		resp, err := client.Send([]byte("ping"))
		return err == nil && string(resp) == "echo:ping"
	}, 5*time.Second, 20*time.Millisecond)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return client, obs
}

func TestUnary(t *testing.T) {
	for name, f := range factories {
		t.Run(name, func(t *testing.T) {
			client, _ := startPair(t, f)

			resp, err := client.Send([]byte("hello"))
			require.NoError(t, err)
			assert.Equal(t, "echo:hello", string(resp))

			resp, err = client.Send(nil)
			require.NoError(t, err)
			assert.Equal(t, "echo:", string(resp))
		})
	}
}

func TestConcurrentUnary(t *testing.T) {
	for name, f := range factories {
		t.Run(name, func(t *testing.T) {
			client, _ := startPair(t, f)

			var wg sync.WaitGroup
			errs := make(chan error, 50)
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					req := fmt.Sprintf("req-%d", i)
					resp, err := client.Send([]byte(req))
					if err != nil {
						errs <- err
						return
					}
					if string(resp) != "echo:"+req {
						errs <- fmt.Errorf("got %q for %q", resp, req)
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}
		})
	}
}

func TestStream(t *testing.T) {
	for name, f := range factories {
		t.Run(name, func(t *testing.T) {
			client, _ := startPair(t, f)

			var frames []string
			err := client.Stream(context.Background(), []byte("count:5"), func(frame []byte) error {
				frames = append(frames, string(frame))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"frame-0", "frame-1", "frame-2", "frame-3", "frame-4"}, frames)

			// an empty stream ends immediately
			err = client.Stream(context.Background(), []byte("count:0"), func([]byte) error {
				t.Error("unexpected frame")
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStreamHandlerError(t *testing.T) {
	for name, f := range factories {
		t.Run(name, func(t *testing.T) {
			client, _ := startPair(t, f)

			err := client.Stream(context.Background(), []byte("fail"), func([]byte) error { return nil })
			require.Error(t, err)
			assert.Contains(t, err.Error(), "boom")

			// the connection is still usable
			resp, err := client.Send([]byte("after"))
			require.NoError(t, err)
			assert.Equal(t, "echo:after", string(resp))
		})
	}
}

func TestStreamContextCancel(t *testing.T) {
	for name, f := range factories {
		t.Run(name, func(t *testing.T) {
			client, obs := startPair(t, f)

			ctx, cancel := context.WithCancel(context.Background())
			got := make(chan string, 1)
			result := make(chan error, 1)
			go func() {
				result <- client.Stream(ctx, []byte("block"), func(frame []byte) error {
					got <- string(frame)
					return nil
				})
			}()

			select {
			case frame := <-got:
				assert.Equal(t, "first", frame)
			case <-time.After(5 * time.Second):
				t.Fatal("no frame received")
			}

			cancel()
			select {
			case err := <-result:
				assert.ErrorIs(t, err, context.Canceled)
			case <-time.After(5 * time.Second):
				t.Fatal("stream did not return after cancel")
			}

			// the server handler observes the cancellation
			assert.Eventually(t, func() bool { return obs.cancels() == 1 }, 5*time.Second, 10*time.Millisecond)
		})
	}
}

func TestStreamReceiverStops(t *testing.T) {
	for name, f := range factories {
		t.Run(name, func(t *testing.T) {
			client, obs := startPair(t, f)

			errStop := errors.New("stop")
			err := client.Stream(context.Background(), []byte("block"), func([]byte) error {
				return errStop
			})
			assert.ErrorIs(t, err, errStop)
			assert.Eventually(t, func() bool { return obs.cancels() == 1 }, 5*time.Second, 10*time.Millisecond)
		})
	}
}
