// Package preparedlog implements the on-log binary format for prepared
// transaction operations and their tombstones: the records that make the
// lock-and-commit protocol crash-safe.
//
// Binary layout is a public contract shared with every peer that reads
// the log, so it is hand-rolled packed little-endian (not gob, not
// protobuf): explicit field-by-field binary.Write/Read over a
// bytes.Buffer, checksummed with CRC32C (the Castagnoli polynomial).
package preparedlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/ocx/backend/internal/errkind"
)

// OpType enumerates the kind of operation a prepared op represents.
type OpType uint8

const (
	OpRead OpType = iota
	OpRemove
	OpWrite
)

// castagnoliTable computes CRC32C. hash/crc32 already exposes the exact
// Castagnoli polynomial the wire format requires, so it is used
// directly rather than pulling in a third-party CRC32 package.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Participant describes one operation of the enclosing transaction, used
// during recovery to rendezvous with the other participants.
type Participant struct {
	TableID uint64
	KeyHash uint64
	RPCID   uint64
}

func (p Participant) marshal(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, p.TableID)
	binary.Write(buf, binary.LittleEndian, p.KeyHash)
	binary.Write(buf, binary.LittleEndian, p.RPCID)
}

func unmarshalParticipant(r *bytes.Reader) (Participant, error) {
	var p Participant
	if err := binary.Read(r, binary.LittleEndian, &p.TableID); err != nil {
		return Participant{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &p.KeyHash); err != nil {
		return Participant{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &p.RPCID); err != nil {
		return Participant{}, err
	}
	return p, nil
}

const participantSize = 8 + 8 + 8

// recordHeaderSize is the packed size of Record.Header, excluding
// nothing (checksum included): opType(1) + clientId(8) + rpcId(8) +
// participantCount(4) + checksum(4).
const recordHeaderSize = 1 + 8 + 8 + 4 + 4

// RecordHeader is the fixed packed header of a prepared-op log record.
type RecordHeader struct {
	OpType           OpType
	ClientID         uint64
	RPCID            uint64
	ParticipantCount uint32
	Checksum         uint32
}

// Record is a full prepared-op log entry: header, participant list, and
// the post-commit object payload (key+value for WRITE; keys-only for
// READ/REMOVE).
type Record struct {
	Header       RecordHeader
	Participants []Participant
	Object       []byte
}

// NewRecord builds a Record from its fields and computes the checksum
// over the header tail (everything but the checksum field itself),
// participants, and object.
func NewRecord(opType OpType, clientID, rpcID uint64, participants []Participant, object []byte) Record {
	r := Record{
		Header: RecordHeader{
			OpType:           opType,
			ClientID:         clientID,
			RPCID:            rpcID,
			ParticipantCount: uint32(len(participants)),
		},
		Participants: participants,
		Object:       object,
	}
	r.Header.Checksum = r.ComputeChecksum()
	return r
}

// checksumSpan serializes everything the checksum covers: the header
// with its checksum field zeroed, followed by participants and object.
func (r Record) checksumSpan() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(r.Header.OpType))
	binary.Write(&buf, binary.LittleEndian, r.Header.ClientID)
	binary.Write(&buf, binary.LittleEndian, r.Header.RPCID)
	binary.Write(&buf, binary.LittleEndian, r.Header.ParticipantCount)
	for _, p := range r.Participants {
		p.marshal(&buf)
	}
	buf.Write(r.Object)
	return buf.Bytes()
}

// ComputeChecksum is the public, deterministic checksum function used by
// both the from-fields and from-log-buffer construction paths.
func (r Record) ComputeChecksum() uint32 {
	return crc32.Checksum(r.checksumSpan(), castagnoliTable)
}

// CheckIntegrity recomputes CRC32C over the same span used at
// construction and compares it to the stored header checksum.
func (r Record) CheckIntegrity() bool {
	return r.ComputeChecksum() == r.Header.Checksum
}

// AssembleForLog appends the record's on-log bytes (header, then
// participants, then object) to out and returns the extended slice.
func (r Record) AssembleForLog(out []byte) []byte {
	buf := bytes.NewBuffer(out)
	buf.WriteByte(byte(r.Header.OpType))
	binary.Write(buf, binary.LittleEndian, r.Header.ClientID)
	binary.Write(buf, binary.LittleEndian, r.Header.RPCID)
	binary.Write(buf, binary.LittleEndian, r.Header.ParticipantCount)
	binary.Write(buf, binary.LittleEndian, r.Header.Checksum)
	for _, p := range r.Participants {
		p.marshal(buf)
	}
	buf.Write(r.Object)
	return buf.Bytes()
}

// ParseRecord views a log buffer at the record's start and decodes it:
// header fields by copy, participants and object by straightforward
// slice decode. The buffer must contain exactly one record (callers
// slice out the record's byte range from the segment before calling).
func ParseRecord(data []byte) (Record, error) {
	if len(data) < recordHeaderSize {
		return Record{}, fmt.Errorf("preparedlog: %w: record shorter than header (%d bytes)", errkind.Malformed, len(data))
	}
	r := bytes.NewReader(data)

	var h RecordHeader
	opTypeByte, err := r.ReadByte()
	if err != nil {
		return Record{}, fmt.Errorf("preparedlog: %w: %v", errkind.Malformed, err)
	}
	h.OpType = OpType(opTypeByte)
	if err := binary.Read(r, binary.LittleEndian, &h.ClientID); err != nil {
		return Record{}, fmt.Errorf("preparedlog: %w: %v", errkind.Malformed, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.RPCID); err != nil {
		return Record{}, fmt.Errorf("preparedlog: %w: %v", errkind.Malformed, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.ParticipantCount); err != nil {
		return Record{}, fmt.Errorf("preparedlog: %w: %v", errkind.Malformed, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Checksum); err != nil {
		return Record{}, fmt.Errorf("preparedlog: %w: %v", errkind.Malformed, err)
	}

	needed := int(h.ParticipantCount) * participantSize
	if r.Len() < needed {
		return Record{}, fmt.Errorf("preparedlog: %w: truncated participant list (need %d, have %d)", errkind.Malformed, needed, r.Len())
	}
	participants := make([]Participant, h.ParticipantCount)
	for i := range participants {
		p, err := unmarshalParticipant(r)
		if err != nil {
			return Record{}, fmt.Errorf("preparedlog: %w: %v", errkind.Malformed, err)
		}
		participants[i] = p
	}

	object := make([]byte, r.Len())
	if _, err := r.Read(object); err != nil && r.Len() != 0 {
		return Record{}, fmt.Errorf("preparedlog: %w: %v", errkind.Malformed, err)
	}

	return Record{Header: h, Participants: participants, Object: object}, nil
}

// tombstoneHeaderSize is the packed size of TombstoneHeader: tableId(8) +
// keyHash(8) + clientLeaseId(8) + rpcId(8) + segmentId(8) + checksum(4).
const tombstoneHeaderSize = 8 + 8 + 8 + 8 + 8 + 4

// TombstoneHeader is the fixed packed header of a prepared-op tombstone.
type TombstoneHeader struct {
	TableID       uint64
	KeyHash       uint64
	ClientLeaseID uint64
	RPCID         uint64
	SegmentID     uint64
	Checksum      uint32
}

// Tombstone marks that a prepared op has been resolved (committed or
// aborted). It carries the segmentId of the record it supersedes so log
// cleaning can evict both together.
type Tombstone struct {
	Header TombstoneHeader
}

// NewTombstone builds a Tombstone and computes its checksum.
func NewTombstone(tableID, keyHash, clientLeaseID, rpcID, segmentID uint64) Tombstone {
	t := Tombstone{Header: TombstoneHeader{
		TableID:       tableID,
		KeyHash:       keyHash,
		ClientLeaseID: clientLeaseID,
		RPCID:         rpcID,
		SegmentID:     segmentID,
	}}
	t.Header.Checksum = t.ComputeChecksum()
	return t
}

func (t Tombstone) checksumSpan() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, t.Header.TableID)
	binary.Write(&buf, binary.LittleEndian, t.Header.KeyHash)
	binary.Write(&buf, binary.LittleEndian, t.Header.ClientLeaseID)
	binary.Write(&buf, binary.LittleEndian, t.Header.RPCID)
	binary.Write(&buf, binary.LittleEndian, t.Header.SegmentID)
	return buf.Bytes()
}

// ComputeChecksum is the public, deterministic checksum function for
// tombstones, symmetric with Record.ComputeChecksum.
func (t Tombstone) ComputeChecksum() uint32 {
	return crc32.Checksum(t.checksumSpan(), castagnoliTable)
}

// CheckIntegrity recomputes CRC32C and compares to the stored checksum.
func (t Tombstone) CheckIntegrity() bool {
	return t.ComputeChecksum() == t.Header.Checksum
}

// AssembleForLog appends the tombstone's on-log bytes to out.
func (t Tombstone) AssembleForLog(out []byte) []byte {
	buf := bytes.NewBuffer(out)
	binary.Write(buf, binary.LittleEndian, t.Header.TableID)
	binary.Write(buf, binary.LittleEndian, t.Header.KeyHash)
	binary.Write(buf, binary.LittleEndian, t.Header.ClientLeaseID)
	binary.Write(buf, binary.LittleEndian, t.Header.RPCID)
	binary.Write(buf, binary.LittleEndian, t.Header.SegmentID)
	binary.Write(buf, binary.LittleEndian, t.Header.Checksum)
	return buf.Bytes()
}

// ParseTombstone decodes a tombstone from its on-log bytes.
func ParseTombstone(data []byte) (Tombstone, error) {
	if len(data) < tombstoneHeaderSize {
		return Tombstone{}, fmt.Errorf("preparedlog: %w: tombstone shorter than header (%d bytes)", errkind.Malformed, len(data))
	}
	r := bytes.NewReader(data)
	var h TombstoneHeader
	for _, dst := range []*uint64{&h.TableID, &h.KeyHash, &h.ClientLeaseID, &h.RPCID, &h.SegmentID} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return Tombstone{}, fmt.Errorf("preparedlog: %w: %v", errkind.Malformed, err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Checksum); err != nil {
		return Tombstone{}, fmt.Errorf("preparedlog: %w: %v", errkind.Malformed, err)
	}
	return Tombstone{Header: h}, nil
}
