// Package serverlist holds the cluster membership list the failure
// detector fetches periodically from the coordinator over GET_SERVER_LIST
// and treats as immutable until the next refresh.
//
// Encoding is encoding/gob rather than a schema-compiled format: this is
// a single internal RPC between a server and its own coordinator, not a
// public cross-version wire contract, so the generated-code weight of
// protobuf isn't earned here the way it is for the prepared-op log
// record.
package serverlist

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// ServerType identifies what role a list entry plays (master, backup,
// coordinator, ...). Left as an opaque integer: the core treats it as a
// filter value for GET_SERVER_LIST, never interprets it.
type ServerType uint32

// Entry is one member of the cluster.
type Entry struct {
	Locator    string
	ServerType ServerType
}

// List is an immutable-between-refreshes snapshot of cluster membership.
type List struct {
	Entries []Entry
}

// Encode serializes a List for the GET_SERVER_LIST response payload.
func Encode(l List) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(l); err != nil {
		return nil, fmt.Errorf("serverlist: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a GET_SERVER_LIST response payload.
func Decode(data []byte) (List, error) {
	var l List
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&l); err != nil {
		return List{}, fmt.Errorf("serverlist: decode: %w", err)
	}
	return l, nil
}

// Locators returns just the locator strings, in list order.
func (l List) Locators() []string {
	out := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		out[i] = e.Locator
	}
	return out
}
