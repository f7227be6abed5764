package Adhoc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regServer(t *testing.T, status int, got chan<- RegisterRequest) RegServerConfig {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register", r.URL.Path)
		var req RegisterRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if got != nil {
			select {
			case got <- req:
			default:
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: req.Id, Success: status == http.StatusOK})
	}))
	t.Cleanup(ts.Close)
	host, port, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)
	reg := RegServerConfig{}
	reg.SetAddress(host, p)
	return reg
}

func TestHeartbeat_Send(t *testing.T) {
	got := make(chan RegisterRequest, 1)
	h := NewHeartbeat(regServer(t, http.StatusOK, got), "10.0.0.7", 50051, EdgeTpuInstance)
	resp, err := h.Send(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, h.ID, resp.Id)

	req := <-got
	assert.Equal(t, "10.0.0.7", req.IP)
	assert.Equal(t, 50051, req.Port)
	assert.Equal(t, EdgeTpuInstance, req.InstanceClass)
	assert.NotZero(t, req.TimeStamp)
}

func TestHeartbeat_ServerError(t *testing.T) {
	h := NewHeartbeat(regServer(t, http.StatusInternalServerError, nil), "10.0.0.7", 50051, CpuInstance)
	_, err := h.Send(context.Background())
	assert.Error(t, err)
}

func TestHeartbeat_Run(t *testing.T) {
	Interval = 20 * time.Millisecond
	defer func() { Interval = TimeOutSeconds * time.Second }()

	var count atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	host, port, _ := net.SplitHostPort(ts.Listener.Addr().String())
	p, _ := strconv.Atoi(port)

	h := NewHeartbeat(RegServerConfig{Addr: host, Port: p}, "127.0.0.1", 1, CpuInstance)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go h.Run(ctx, &wg)
	assert.Eventually(t, func() bool { return count.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()
}

func TestParseInstanceClass(t *testing.T) {
	c, ok := ParseInstanceClass("EdgeTPU")
	assert.True(t, ok)
	assert.Equal(t, EdgeTpuInstance, c)
	c, ok = ParseInstanceClass("Cuda")
	assert.False(t, ok)
	assert.Equal(t, CpuInstance, c)
}
