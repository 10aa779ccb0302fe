package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/backend/internal/serverlist"
)

type fakeServerList struct{ list serverlist.List }

func (f fakeServerList) ServerList() serverlist.List { return f.list }

func TestHealthz(t *testing.T) {
	s := New(nil, nil, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerListUnavailableWithoutProvider(t *testing.T) {
	s := New(nil, nil, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/serverlist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerListReturnsEntries(t *testing.T) {
	sl := fakeServerList{list: serverlist.List{Entries: []serverlist.Entry{
		{Locator: "tcp:host=127.0.0.1,port=11000"},
	}}}
	s := New(sl, nil, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/serverlist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got serverlist.List
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, sl.list.Locators(), got.Locators())
}

func TestEventHubBroadcastsToConnectedClient(t *testing.T) {
	s := New(nil, nil, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for s.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, s.Hub().ClientCount())

	s.Hub().Publish(Event{Type: EventServerDown, Locator: "tcp:host=127.0.0.1,port=11010"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventServerDown, got.Type)
	assert.Equal(t, "tcp:host=127.0.0.1,port=11010", got.Locator)
}
