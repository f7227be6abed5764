// Package Adhoc announces this detection node to a registration server.
package Adhoc

import (
	"PersonDetServer/logger"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	CpuInstance     = 0x2002
	EdgeTpuInstance = 0x2005
	TimeOutSeconds  = 5
)

// Interval between heartbeats.
var Interval = TimeOutSeconds * time.Second

type RegisterRequest struct {
	Id            string `json:"id"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	InstanceClass int    `json:"instanceClass"`
	TimeStamp     int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// ParseInstanceClass maps the config name to its class id; unknown names
// fall back to CPU.
func ParseInstanceClass(name string) (int, bool) {
	switch strings.ToLower(name) {
	case "cpu":
		return CpuInstance, true
	case "edgetpu", "tpu":
		return EdgeTpuInstance, true
	default:
		return CpuInstance, false
	}
}

// GetOutboundIP returns the address of the interface that routes to the
// internet. Nothing is sent.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Heartbeat registers one instance id with the server, repeatedly.
type Heartbeat struct {
	ID            string
	IP            string
	Port          int
	InstanceClass int

	reg    RegServerConfig
	client *resty.Client
}

func NewHeartbeat(reg RegServerConfig, ip string, port int, instanceClass int) *Heartbeat {
	return &Heartbeat{
		ID:            uuid.NewString(),
		IP:            ip,
		Port:          port,
		InstanceClass: instanceClass,
		reg:           reg,
		client:        resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

// Send posts one registration.
func (h *Heartbeat) Send(ctx context.Context) (RegisterResponse, error) {
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(RegisterRequest{
			Id:            h.ID,
			IP:            h.IP,
			Port:          h.Port,
			InstanceClass: h.InstanceClass,
			TimeStamp:     time.Now().Unix(),
		}).
		SetResult(&respBody).
		Post(h.reg.URL())
	if err != nil {
		return respBody, errors.Wrap(err, "register request")
	}
	if resp.IsError() {
		return respBody, errors.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	return respBody, nil
}

// Run sends a heartbeat now and every Interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	safeSend := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error(fmt.Sprintf("heartbeat panic recovered: %v", r))
			}
		}()
		if _, err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Error("heartbeat failed", zap.String("url", h.reg.URL()), zap.Error(err))
		}
	}
	safeSend()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeSend()
		}
	}
}
