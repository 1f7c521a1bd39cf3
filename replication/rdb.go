package replication

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Snapshot opcodes
const (
	rdbOpcodeEOF      = 0xFF
	rdbOpcodeDB       = 0xFE
	rdbOpcodeResizeDB = 0xFB
	rdbOpcodeAux      = 0xFA

	// MaxSupportedRDBVersion is the newest snapshot format accepted
	MaxSupportedRDBVersion = 12
)

// emptySnapshotHex is a version 11 snapshot holding no keys, only the
// usual auxiliary fields.
const emptySnapshotHex = "524544495330303131fa0972656469732d76657205372e322e30fa0a72656469732d62697473c040fa056374696d65c26d08bc65fa08757365642d6d656dc2b0c41000fa08616f662d62617365c000fff06e3bfec0ff5aa2"

var emptySnapshot = mustDecodeHex(emptySnapshotHex)

// ErrSnapshotHasKeys is returned by InspectSnapshot for snapshots that
// carry a keyspace. Nodes only exchange the empty snapshot and rebuild
// their data from the command log.
var ErrSnapshotHasKeys = errors.New("snapshot carries keys")

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// EmptySnapshot returns a copy of the snapshot sent after FULLRESYNC
func EmptySnapshot() []byte {
	return append([]byte(nil), emptySnapshot...)
}

// SnapshotInfo is what InspectSnapshot learns from a snapshot header
type SnapshotInfo struct {
	Version int
	Aux     map[string]string
}

// InspectSnapshot validates a snapshot's magic and version and collects
// its auxiliary fields up to the end marker.
func InspectSnapshot(payload []byte) (SnapshotInfo, error) {
	p := &snapshotParser{br: bufio.NewReader(bytes.NewReader(payload))}
	return p.parse()
}

type snapshotParser struct {
	br *bufio.Reader
}

func (p *snapshotParser) parse() (SnapshotInfo, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(p.br, header); err != nil {
		return SnapshotInfo{}, fmt.Errorf("failed to read snapshot header: %w", err)
	}

	if string(header[:5]) != "REDIS" {
		return SnapshotInfo{}, fmt.Errorf("invalid snapshot magic: %q", header[:5])
	}

	version, err := strconv.Atoi(string(header[5:]))
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("invalid snapshot version: %q", header[5:])
	}
	if version > MaxSupportedRDBVersion {
		return SnapshotInfo{}, fmt.Errorf("unsupported snapshot version: %d (max supported: %d)", version, MaxSupportedRDBVersion)
	}

	info := SnapshotInfo{Version: version, Aux: make(map[string]string)}

	for {
		opcode, err := p.br.ReadByte()
		if err == io.EOF {
			return info, nil
		}
		if err != nil {
			return info, fmt.Errorf("failed to read opcode: %w", err)
		}

		switch opcode {
		case rdbOpcodeEOF:
			return info, nil

		case rdbOpcodeAux:
			key, err := p.readString()
			if err != nil {
				return info, fmt.Errorf("failed to read aux key: %w", err)
			}
			value, err := p.readString()
			if err != nil {
				return info, fmt.Errorf("failed to read aux value for key %s: %w", key, err)
			}
			info.Aux[key] = value

		case rdbOpcodeDB, rdbOpcodeResizeDB:
			return info, ErrSnapshotHasKeys

		default:
			return info, fmt.Errorf("%w: opcode 0x%02x", ErrSnapshotHasKeys, opcode)
		}
	}
}

// readLength reads a length-encoded integer. special is set when the
// encoding denotes an integer-encoded string rather than a length.
func (p *snapshotParser) readLength() (n uint64, special bool, err error) {
	b, err := p.br.ReadByte()
	if err != nil {
		return 0, false, err
	}

	switch (b & 0xC0) >> 6 {
	case 0:
		return uint64(b & 0x3F), false, nil

	case 1:
		b2, err := p.br.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return uint64(b&0x3F)<<8 | uint64(b2), false, nil

	case 2:
		var length uint32
		if err := binary.Read(p.br, binary.BigEndian, &length); err != nil {
			return 0, false, err
		}
		return uint64(length), false, nil

	default:
		return uint64(b & 0x3F), true, nil
	}
}

// readString reads a string, rendering integer encodings in decimal
func (p *snapshotParser) readString() (string, error) {
	n, special, err := p.readLength()
	if err != nil {
		return "", err
	}

	if special {
		switch n {
		case 0:
			b, err := p.br.ReadByte()
			return strconv.Itoa(int(int8(b))), err
		case 1:
			var v int16
			err := binary.Read(p.br, binary.LittleEndian, &v)
			return strconv.Itoa(int(v)), err
		case 2:
			var v int32
			err := binary.Read(p.br, binary.LittleEndian, &v)
			return strconv.Itoa(int(v)), err
		default:
			return "", fmt.Errorf("unsupported string encoding: %d", n)
		}
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(p.br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
