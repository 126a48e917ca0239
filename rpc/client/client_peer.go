package client

import (
	"errors"

	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/ValentinKolb/dChat/lib/replication"
	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/serializer"
	"github.com/ValentinKolb/dChat/rpc/transport"
)

// NewRPCPeer creates the client used by the primary to replicate mutations to one follower
func NewRPCPeer(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (replication.IPeerClient, error) {
	adapter, err := newAdapter(config, transport, serializer)
	if err != nil {
		return nil, chat.Errorf(chat.CodeReplicationTransport, "connect: %v", err)
	}
	return &rpcPeer{adapter}, nil
}

type rpcPeer struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see replication.IPeerClient)
// --------------------------------------------------------------------------

func (p *rpcPeer) Replicate(op string, payload []byte) error {
	_, err := p.invoke(common.NewReplicateRequest(op, payload))
	if err == nil {
		return nil
	}
	// a follower that answered has the typed error already
	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		return chatErr
	}
	return chat.Errorf(chat.CodeReplicationTransport, "%v", err)
}

func (p *rpcPeer) Close() error {
	return p.close()
}
