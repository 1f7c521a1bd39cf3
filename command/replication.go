package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
	"github.com/raniellyferreira/redis-inmemory-node/replication"
)

// replconf handles the replica side of the handshake on a master and the
// offset exchange in both directions.
//
//	REPLCONF listening-port <port>  stage a replica descriptor
//	REPLCONF capa <capability>...   accepted and ignored
//	REPLCONF ACK <offset>           record the replica's offset, no reply
//	REPLCONF GETACK *               reply REPLCONF ACK <offset>
func (i *Interpreter) replconf(args []string) (protocol.Value, []string, error) {
	switch strings.ToLower(args[0]) {
	case "listening-port":
		if len(args) != 2 {
			return protocol.Value{}, nil, ErrSyntax
		}
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 0 || port > 65535 {
			return protocol.Value{}, nil, ErrNotInteger
		}
		i.staged = replication.NewReplica(port, i.remoteAddr)
		return protocol.SimpleString("OK"), nil, nil

	case "capa":
		return protocol.SimpleString("OK"), nil, nil

	case "ack":
		if len(args) != 2 {
			return protocol.Value{}, nil, ErrSyntax
		}
		offset, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return protocol.Value{}, nil, ErrNotInteger
		}
		i.shared.Bridge.Ack(i.replica, offset)
		return NoReply, nil, nil

	case "getack":
		// A master has applied nothing from upstream; it answers 0.
		var offset int64
		if i.shared.Bridge.Role() == replication.RoleReplica {
			offset = i.shared.Bridge.AppliedBytes()
		}
		return protocol.StringArray("REPLCONF", "ACK", strconv.FormatInt(offset, 10)), nil, nil

	default:
		return protocol.Value{}, nil, fmt.Errorf("ERR Unrecognized REPLCONF option: %s", args[0])
	}
}

// psync registers the staged replica and switches the connection to
// streaming. The requested replid and offset are ignored: every PSYNC is
// answered with a full resynchronization.
func (i *Interpreter) psync(args []string) (protocol.Value, []string, error) {
	bridge := i.shared.Bridge
	if bridge.Role() != replication.RoleMaster {
		return protocol.Value{}, nil, ErrNotMaster
	}
	if i.staged == nil {
		return protocol.Value{}, nil, replication.ErrReplicaNotAvailable
	}

	i.replica = i.staged
	i.staged = nil
	bridge.Register(i.replica)

	i.logger.Info("Replica requested sync",
		"addr", i.replica.Addr,
		"port", i.replica.ListeningPort,
		"replid", args[0],
		"offset", args[1])

	reply := fmt.Sprintf("FULLRESYNC %s %d", bridge.ReplID(), bridge.ProducedBytes())
	return protocol.SimpleString(reply), nil, nil
}

// NoReply is returned for commands that must not be answered, such as
// REPLCONF ACK
var NoReply = protocol.Value{}

// IsNoReply reports whether v should be left unwritten
func IsNoReply(v protocol.Value) bool {
	return v.Type == 0
}
