package serverlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	l := List{Entries: []Entry{
		{Locator: "fast+udp:host=10.0.0.1,port=11000", ServerType: 1},
		{Locator: "fast+udp:host=10.0.0.2,port=11000", ServerType: 2},
	}}

	data, err := Encode(l)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestLocatorsPreservesOrder(t *testing.T) {
	l := List{Entries: []Entry{
		{Locator: "a"}, {Locator: "b"}, {Locator: "c"},
	}}
	assert.Equal(t, []string{"a", "b", "c"}, l.Locators())
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
