package serve

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dChat/cmd/util"
	"github.com/ValentinKolb/dChat/lib/replication"
	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dChat node",
		Long:    `Start a dChat node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCHAT_<flag> (e.g. DCHAT_NODE_ID=2)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "node-id"
	ServeCmd.PersistentFlags().Uint64(key, 1, cmdUtil.WrapString("Id of this node. The node with the smallest id of the cluster is the primary"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of all cluster members in the format 'ID=ADDRESS' (e.g. '1=localhost:8080,2=localhost:8081'). Empty runs a single node"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the node will listen (e.g. localhost:8080, /tmp/dchat.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("How many requests of one connection are handled concurrently (only tcp and unix)"))

	key = "data-file"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path of the snapshot file. Empty disables persistence"))

	key = "persistence"
	ServeCmd.PersistentFlags().String(key, "file", cmdUtil.WrapString("Snapshot backend (file, sqlite)"))

	key = "bcrypt-cost"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("bcrypt cost used to hash passwords"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for requests to other nodes"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the Prometheus metrics listener (e.g. localhost:9090). Empty disables it"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "log-format"
	ServeCmd.PersistentFlags().String(key, "console", cmdUtil.WrapString("Format of the log output (console, json)"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the write buffer for the transport (in KB, only tcp and unix)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the read buffer for the transport (in KB, only tcp and unix)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only tcp)"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval (in seconds, only tcp)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time (in seconds, only tcp)"))
}

// processConfig reads the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.NodeID = viper.GetUint64("node-id")
	serveCmdConfig.DataFile = viper.GetString("data-file")
	serveCmdConfig.Persistence = viper.GetString("persistence")
	serveCmdConfig.BcryptCost = viper.GetInt("bcrypt-cost")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.LogFormat = viper.GetString("log-format")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}

	switch serveCmdConfig.Persistence {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid persistence backend: %s (expected one of: file, sqlite)", serveCmdConfig.Persistence)
	}

	// parse cluster members
	peers, err := replication.ParsePeers(viper.GetString("peers"))
	if err != nil {
		return err
	}
	serveCmdConfig.Peers = make(map[uint64]string, len(peers))
	for _, p := range peers {
		if _, dup := serveCmdConfig.Peers[p.ID]; dup {
			return fmt.Errorf("duplicate peer id %d", p.ID)
		}
		serveCmdConfig.Peers[p.ID] = p.Address
	}

	// this node must be a member of the cluster it is part of
	if _, ok := serveCmdConfig.Peers[serveCmdConfig.NodeID]; !ok && len(peers) > 0 {
		return fmt.Errorf("no address found for node id %d in peers", serveCmdConfig.NodeID)
	}

	return nil
}

// run starts the node and blocks until it is stopped by a signal or fails
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	peerTransport, err := cmdUtil.GetPeerTransportFactory()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s, peerTransport)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan error, 1)
	go func() { done <- serv.Serve() }()

	select {
	case err := <-done:
		return errors.Join(err, serv.Close())
	case sig := <-sigs:
		server.Logger.Infof("Received %s, shutting down", sig)
		closeErr := serv.Close()
		return errors.Join(<-done, closeErr)
	}
}
