package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"image-reducer-go/internal/config"
	"image-reducer-go/internal/statistics"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *statistics.Statistics, *httptest.Server) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.DefaultConfig()
	cfg.InputDirectory = "/in"
	cfg.OutputDirectory = "/out"
	cfg.Ratio = 0.5

	stats := statistics.NewStatistics()
	s := NewServer(cfg, log, stats)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		ts.Close()
	})
	return s, stats, ts
}

func TestStatusEndpoint(t *testing.T) {
	_, stats, ts := newTestServer(t)
	stats.IncrementEvent("created")
	stats.RecordProcessed(statistics.Summary{SourcePath: "/in/a.png", InitialSize: 1000, FinalSize: 250})

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Success bool       `json:"success"`
		Data    StatusData `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "/in", body.Data.InputDirectory)
	assert.Equal(t, "/out", body.Data.OutputDirectory)
	assert.Equal(t, 0.5, body.Data.Ratio)
	assert.Equal(t, int64(1), body.Data.Statistics.EventsCreated)
	assert.Equal(t, int64(1), body.Data.Statistics.FilesProcessed)
	assert.Equal(t, int64(1000), body.Data.Statistics.BytesIn)
	require.NotNil(t, body.Data.Statistics.LastProcessed)
	assert.Equal(t, "/in/a.png", body.Data.Statistics.LastProcessed.SourcePath)
	assert.NotEmpty(t, body.Data.Summary)
}

func TestErrorsEndpoint(t *testing.T) {
	_, stats, ts := newTestServer(t)
	stats.AddError("/in/bad.png", "resize", "decode failed")

	resp, err := http.Get(ts.URL + "/api/errors")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Success bool                   `json:"success"`
		Data    []statistics.StatError `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "/in/bad.png", body.Data[0].FilePath)
	assert.Equal(t, "resize", body.Data[0].Stage)
}

func TestStatusRejectsPost(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/status", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketBroadcast(t *testing.T) {
	s, _, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.FileProcessed(statistics.Summary{
		SourcePath:      "/in/a.png",
		DestinationPath: "/out/a-new.png",
		InitialSize:     1000,
		FinalSize:       400,
	})
	s.FileRemoved("/out/b-new.png")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var processed struct {
		Type string             `json:"type"`
		Data statistics.Summary `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&processed))
	assert.Equal(t, "file_processed", processed.Type)
	assert.Equal(t, "/out/a-new.png", processed.Data.DestinationPath)
	assert.Equal(t, int64(400), processed.Data.FinalSize)

	var removed struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&removed))
	assert.Equal(t, "file_removed", removed.Type)
	assert.Equal(t, "/out/b-new.png", removed.Data["output"])
}

func TestBroadcastWithoutClients(t *testing.T) {
	s, _, _ := newTestServer(t)
	assert.NotPanics(t, func() { s.FileRemoved("/out/a-new.png") })
	assert.Equal(t, 0, s.clientCount())
}

func TestStartAfterStopReturnsClosed(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0

	s := NewServer(cfg, log, statistics.NewStatistics())
	require.NoError(t, s.Stop(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept serving after Stop")
	}
}
