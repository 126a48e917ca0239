// Package tcp provides the TCP connectors for the framed transport of package base.
// It is the transport to use between nodes on different hosts and for remote clients.
//
// Socket options (no delay, keep-alive, linger, buffer sizes) are taken from the
// SocketConf and TCPConf sections of the server and client configuration.
//
// Key Components:
//
//   - clientConnector: TCP implementation of base.IClientConnector
//
//   - serverConnector: TCP implementation of base.IServerConnector
package tcp
