package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/metalinked/metalinked/internal/portal"
)

const feedReadTimeout = 2 * time.Second

func TestSnapshotFeedStreamsPhaseChanges(t *testing.T) {
	contract := &contractStub{profiles: []portal.RawProfile{{Poster: stubAccount, Timestamp: 1640995200, Name: "Ada", URL: "https://ada.example"}}}
	router := newRouter(t, newSession(t, &walletStub{capable: true}, contract))
	testServer := httptest.NewServer(router)
	defer testServer.Close()

	feedURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
	connection, _, err := websocket.DefaultDialer.Dial(feedURL, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer connection.Close()

	first := readSnapshot(t, connection)
	if first.Phase != portal.PhaseNotConnected {
		t.Fatalf("expected initial phase %v, got %v", portal.PhaseNotConnected, first.Phase)
	}

	response, err := http.Post(testServer.URL+"/api/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("connect request: %v", err)
	}
	response.Body.Close()

	observed := []portal.Phase{}
	for {
		snapshot := readSnapshot(t, connection)
		observed = append(observed, snapshot.Phase)
		if snapshot.Phase == portal.PhaseIdle {
			if len(snapshot.Profiles) != 1 {
				t.Fatalf("expected loaded profiles in idle snapshot, got %+v", snapshot.Profiles)
			}
			break
		}
	}
	if observed[0] != portal.PhaseLoading {
		t.Fatalf("expected loading before idle, observed %v", observed)
	}
}

func readSnapshot(t *testing.T, connection *websocket.Conn) portal.Snapshot {
	t.Helper()
	if err := connection.SetReadDeadline(time.Now().Add(feedReadTimeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var snapshot portal.Snapshot
	if err := connection.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	return snapshot
}
