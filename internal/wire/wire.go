// Package wire implements the failure detector's UDP datagram formats:
// PING, PROXY_PING, PROXY_PING response, GET_SERVER_LIST, and
// HINT_SERVER_DOWN, each a single datagram bounded by MaxDatagramBytes.
//
// Each message has a packed binary header via encoding/binary and
// bytes.Buffer and explicit Marshal/Unmarshal pairs; each Unmarshal
// function validates field presence and length-prefix agreement itself.
// All multi-byte fields use big-endian on the wire.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MsgType identifies the datagram kind in the common header.
type MsgType uint16

const (
	MsgPing MsgType = iota + 1
	MsgProxyPing
	MsgProxyPingResponse
	MsgGetServerList
	MsgGetServerListResponse
	MsgHintServerDown
)

// Status codes carried in response headers.
type Status uint16

const (
	StatusOK Status = 0
)

// UnreachableNanos is the replyNanoseconds sentinel meaning "no response
// arrived before the probe timed out".
const UnreachableNanos uint64 = 0xFFFFFFFFFFFFFFFF

// Header is the common prefix of every datagram.
type Header struct {
	Type   MsgType
	Status Status
}

func (h Header) marshal(buf *bytes.Buffer) {
	binary.Write(buf, binary.BigEndian, h.Type)
	binary.Write(buf, binary.BigEndian, h.Status)
}

func unmarshalHeader(r *bytes.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.BigEndian, &h.Type); err != nil {
		return Header{}, fmt.Errorf("wire: short header (type): %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &h.Status); err != nil {
		return Header{}, fmt.Errorf("wire: short header (status): %w", err)
	}
	return h, nil
}

// PeekType reads just enough of a datagram to learn its message type,
// without consuming or validating the rest. Used by the main loop to
// decide which unmarshal function to call.
func PeekType(datagram []byte) (MsgType, error) {
	if len(datagram) < 2 {
		return 0, fmt.Errorf("wire: datagram too short to contain a type (%d bytes)", len(datagram))
	}
	return MsgType(binary.BigEndian.Uint16(datagram[:2])), nil
}

// Ping is both the PING request and its echo response: {common, nonce}.
type Ping struct {
	Header Header
	Nonce  uint64
}

func NewPingRequest(nonce uint64) Ping {
	return Ping{Header: Header{Type: MsgPing}, Nonce: nonce}
}

func NewPingResponse(nonce uint64) Ping {
	return Ping{Header: Header{Type: MsgPing, Status: StatusOK}, Nonce: nonce}
}

func (p Ping) Marshal() []byte {
	var buf bytes.Buffer
	p.Header.marshal(&buf)
	binary.Write(&buf, binary.BigEndian, p.Nonce)
	return buf.Bytes()
}

func UnmarshalPing(datagram []byte) (Ping, error) {
	r := bytes.NewReader(datagram)
	h, err := unmarshalHeader(r)
	if err != nil {
		return Ping{}, err
	}
	var p Ping
	p.Header = h
	if err := binary.Read(r, binary.BigEndian, &p.Nonce); err != nil {
		return Ping{}, fmt.Errorf("wire: malformed PING, missing nonce: %w", err)
	}
	return p, nil
}

// ProxyPing is a coordinator-initiated request asking the receiver to
// PING a third-party locator on its behalf: {common, length, locator}.
type ProxyPing struct {
	Header  Header
	Locator string
}

func NewProxyPing(locator string) ProxyPing {
	return ProxyPing{Header: Header{Type: MsgProxyPing}, Locator: locator}
}

func (p ProxyPing) Marshal() []byte {
	var buf bytes.Buffer
	p.Header.marshal(&buf)
	locBytes := []byte(p.Locator)
	binary.Write(&buf, binary.BigEndian, uint32(len(locBytes)))
	buf.Write(locBytes)
	return buf.Bytes()
}

func UnmarshalProxyPing(datagram []byte) (ProxyPing, error) {
	r := bytes.NewReader(datagram)
	h, err := unmarshalHeader(r)
	if err != nil {
		return ProxyPing{}, err
	}
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return ProxyPing{}, fmt.Errorf("wire: malformed PROXY_PING, missing length: %w", err)
	}
	if int(length) != r.Len() {
		return ProxyPing{}, fmt.Errorf("wire: malformed PROXY_PING, length field %d does not match remaining %d bytes", length, r.Len())
	}
	locBytes := make([]byte, length)
	if _, err := r.Read(locBytes); err != nil {
		return ProxyPing{}, fmt.Errorf("wire: malformed PROXY_PING, short locator: %w", err)
	}
	return ProxyPing{Header: h, Locator: string(locBytes)}, nil
}

// ProxyPingResponse carries the elapsed time of a proxied PING back to
// the coordinator: {common, replyNanoseconds}.
type ProxyPingResponse struct {
	Header          Header
	ReplyNanoseconds uint64
}

func NewProxyPingResponse(replyNanoseconds uint64) ProxyPingResponse {
	return ProxyPingResponse{Header: Header{Type: MsgProxyPingResponse, Status: StatusOK}, ReplyNanoseconds: replyNanoseconds}
}

func (p ProxyPingResponse) Marshal() []byte {
	var buf bytes.Buffer
	p.Header.marshal(&buf)
	binary.Write(&buf, binary.BigEndian, p.ReplyNanoseconds)
	return buf.Bytes()
}

func UnmarshalProxyPingResponse(datagram []byte) (ProxyPingResponse, error) {
	r := bytes.NewReader(datagram)
	h, err := unmarshalHeader(r)
	if err != nil {
		return ProxyPingResponse{}, err
	}
	var p ProxyPingResponse
	p.Header = h
	if err := binary.Read(r, binary.BigEndian, &p.ReplyNanoseconds); err != nil {
		return ProxyPingResponse{}, fmt.Errorf("wire: malformed PROXY_PING_RESPONSE, missing replyNanoseconds: %w", err)
	}
	return p, nil
}

// GetServerListRequest asks the coordinator for the current server list
// of a given server type: {common, serverType}.
type GetServerListRequest struct {
	Header     Header
	ServerType uint32
}

func NewGetServerListRequest(serverType uint32) GetServerListRequest {
	return GetServerListRequest{Header: Header{Type: MsgGetServerList}, ServerType: serverType}
}

func (g GetServerListRequest) Marshal() []byte {
	var buf bytes.Buffer
	g.Header.marshal(&buf)
	binary.Write(&buf, binary.BigEndian, g.ServerType)
	return buf.Bytes()
}

func UnmarshalGetServerListRequest(datagram []byte) (GetServerListRequest, error) {
	r := bytes.NewReader(datagram)
	h, err := unmarshalHeader(r)
	if err != nil {
		return GetServerListRequest{}, err
	}
	var g GetServerListRequest
	g.Header = h
	if err := binary.Read(r, binary.BigEndian, &g.ServerType); err != nil {
		return GetServerListRequest{}, fmt.Errorf("wire: malformed GET_SERVER_LIST, missing serverType: %w", err)
	}
	return g, nil
}

// HintServerDown is the fire-and-forget notification to the coordinator
// that a peer failed to respond to a probe: {common, length, locator}.
type HintServerDown struct {
	Header  Header
	Locator string
}

func NewHintServerDown(locator string) HintServerDown {
	return HintServerDown{Header: Header{Type: MsgHintServerDown}, Locator: locator}
}

func (h HintServerDown) Marshal() []byte {
	var buf bytes.Buffer
	h.Header.marshal(&buf)
	locBytes := []byte(h.Locator)
	binary.Write(&buf, binary.BigEndian, uint32(len(locBytes)))
	buf.Write(locBytes)
	return buf.Bytes()
}

func UnmarshalHintServerDown(datagram []byte) (HintServerDown, error) {
	r := bytes.NewReader(datagram)
	hdr, err := unmarshalHeader(r)
	if err != nil {
		return HintServerDown{}, err
	}
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return HintServerDown{}, fmt.Errorf("wire: malformed HINT_SERVER_DOWN, missing length: %w", err)
	}
	if int(length) != r.Len() {
		return HintServerDown{}, fmt.Errorf("wire: malformed HINT_SERVER_DOWN, length field %d does not match remaining %d bytes", length, r.Len())
	}
	locBytes := make([]byte, length)
	if _, err := r.Read(locBytes); err != nil {
		return HintServerDown{}, fmt.Errorf("wire: malformed HINT_SERVER_DOWN, short locator: %w", err)
	}
	return HintServerDown{Header: hdr, Locator: string(locBytes)}, nil
}
