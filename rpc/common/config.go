package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Socket configuration (shared by server and client transports)
// --------------------------------------------------------------------------

// SocketConf holds buffer sizes for stream based transports (tcp, unix).
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket options.
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerTransportConfig configures the listening side of a transport.
type ServerTransportConfig struct {
	// Endpoint is the address to listen on (host:port or a unix socket path)
	Endpoint string
	// WorkersPerConn bounds the concurrent unary requests per connection (tcp, unix)
	WorkersPerConn int
	SocketConf     SocketConf
	TCPConf        TCPConf
}

// ServerConfig holds all configuration parameters of a chat node.
type ServerConfig struct {
	// NodeID is the id of this node, it must be one of Peers (if Peers is not empty)
	NodeID uint64
	// Peers is the static cluster membership: node id -> address of its RPC endpoint.
	// The node with the smallest id is the primary.
	Peers map[uint64]string

	// Persistence
	DataFile    string
	Persistence string // "file" or "sqlite"

	// Accounts
	BcryptCost int

	// Timeout for requests to peers
	TimeoutSecond int64

	Transport ServerTransportConfig

	// MetricsEndpoint is the address of the Prometheus metrics listener (disabled if empty)
	MetricsEndpoint string

	// Logging configuration
	LogLevel  string
	LogFormat string // "console" or "json"
}

// PrimaryID returns the id of the primary (smallest id of the cluster).
func (c *ServerConfig) PrimaryID() uint64 {
	primary := c.NodeID
	for id := range c.Peers {
		if id < primary {
			primary = id
		}
	}
	return primary
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.MetricsEndpoint != "" {
		addField("Metrics", c.MetricsEndpoint)
	}

	addSection("Node Identity")
	addField("Node ID", strconv.FormatUint(c.NodeID, 10))
	role := "follower"
	if c.PrimaryID() == c.NodeID {
		role = "primary"
	}
	addField("Role", role)

	addSection("Storage")
	addField("Backend", c.Persistence)
	addField("Data File", c.DataFile)
	addField("Bcrypt Cost", strconv.Itoa(c.BcryptCost))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Log Format", c.LogFormat)

	addSection("Cluster")
	if len(c.Peers) == 0 {
		sb.WriteString("  single node\n")
	}

	// Sort keys for consistent output
	var keys []uint64
	for k := range c.Peers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.Peers[k]))
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig configures the connecting side of a transport.
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf             SocketConf
	TCPConf                TCPConf
}

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
