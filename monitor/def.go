package monitor

import (
	"PersonDetServer/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
	TransportWS   = "ws"
	TransportMQTT = "mqtt"
)

var (
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	// GRPCTotal is kept as its own counter so dashboards built on it keep working.
	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detect_requests_total",
		Help: "Detection requests by transport",
	}, []string{"transport"})
	detectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detections_total",
		Help: "Finished detections by outcome (person, empty, error)",
	}, []string{"outcome"})
	inferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inference_duration_seconds",
		Help:    "Time spent in a single detection",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	enginesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engines_loaded",
		Help: "Engines currently registered",
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, GRPCTotal, requestsTotal, detectionsTotal, inferenceSeconds, enginesGauge)
}

func Request(transport string) {
	requestsTotal.WithLabelValues(transport).Inc()
	if transport == TransportGRPC {
		GRPCTotal.Inc()
	}
}

// Observe records one finished detection.
func Observe(elapsed time.Duration, person bool, err error) {
	outcome := "empty"
	switch {
	case err != nil:
		outcome = "error"
	case person:
		outcome = "person"
	}
	detectionsTotal.WithLabelValues(outcome).Inc()
	if err == nil {
		inferenceSeconds.Observe(elapsed.Seconds())
	}
}

func SetEngines(n int) {
	enginesGauge.Set(float64(n))
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func CheckProcessInfo(p *process.Process) {
	if memInfo, err := p.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples the process every 500ms
// until ctx is cancelled.
func StartMon(port int, ctx context.Context) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Error("cannot inspect own process", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server stopped", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			if p != nil {
				CheckProcessInfo(p)
			}
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("metrics server shutdown", zap.Error(err))
	}
}
