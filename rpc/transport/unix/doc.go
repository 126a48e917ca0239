// Package unix provides Unix domain socket connectors for the framed transport of
// package base. It is meant for clients and nodes running on the same machine, and is
// the transport used by the end to end tests.
//
// The server removes a stale socket file before listening. The endpoint is the path
// of the socket file.
package unix
