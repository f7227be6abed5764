package main

import (
	adhoc "PersonDetServer/Adhoc"
	"PersonDetServer/api"
	"PersonDetServer/config"
	"PersonDetServer/engine"
	backend "PersonDetServer/gRPC"
	"PersonDetServer/logger"
	"PersonDetServer/monitor"
	"PersonDetServer/mqttbridge"
	"PersonDetServer/tflitert"
	"PersonDetServer/worker"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var configPath = flag.String("config", "config.yaml", "path to the YAML config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode, cfg.LogLevel); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	CPUNum := runtime.NumCPU()
	runtime.GOMAXPROCS(CPUNum)
	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	fmt.Println(" gRPC  Port:", cfg.RPCPort)
	fmt.Println(" HTTP  Port:", cfg.HTTPPort)
	fmt.Println(" Adhoc Port:", cfg.AdhocPort)
	fmt.Println("Configured Workers Num:", cfg.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	clamped, oversubscribed := cfg.ClampWorkers(CPUNum)
	if clamped {
		logger.Log().Warn("Invalid workersNum in config, defaulting to 1")
	} else if oversubscribed {
		logger.Log().Warn("workersNum exceeds CPU cores, which may lead to performance degradation.",
			zap.Int("workersNum", cfg.WorkersNum), zap.Int("cpus", CPUNum))
	}

	instanceClass, ok := adhoc.ParseInstanceClass(cfg.InstanceClass)
	if !ok {
		logger.Log().Warn("Invalid instanceClass in config, defaulting to Cpu", zap.String("instanceClass", cfg.InstanceClass))
	}
	if instanceClass == adhoc.EdgeTpuInstance {
		cfg.Engine.UseEdgeTPU = true
	}

	rt := tflitert.New()
	newBackend := engine.NewBackend(rt)

	// The default detector is the gadget's one model; without it there is
	// nothing to serve.
	detector := &engine.Detector{}
	detector.New(rt)
	if err := detector.LoadModel(cfg.Engine); err != nil {
		logger.Log().Fatal("default detector failed to initialize", zap.String("model", cfg.Engine.ModelPath), zap.Error(err))
	}
	engine.SetDefault(detector)

	registry := worker.NewRegistry()
	registry.OnRemove = func(e *worker.Engine) {
		if engine.ReleaseDefault(e.Backend) {
			logger.Log().Info("default detector released", zap.String("ID", e.ID))
		}
	}
	registry.SetDefault(registry.Add(detector, "default"))

	pool := worker.NewPool(cfg.WorkersNum)
	pool.StartWorker(cfg.WorkersNum)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if cfg.UseRegServer {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			logger.Log().Error("Failed to get outbound IP, skipping registration", zap.Error(err))
		} else {
			logger.Log().Info("Outbound IP", zap.String("ip", ip))
			reg := adhoc.RegServerConfig{}
			reg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
			wg.Add(1)
			go adhoc.NewHeartbeat(reg, ip, cfg.RPCPort, instanceClass).Run(ctx, &wg)
		}
	} else {
		logger.Log().Info("UseRegServer is set to false, skipping registration")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(cfg.AdhocPort, ctx)
	}()

	rpc := backend.NewServer(registry, pool, newBackend)
	grpcServer, err := backend.StartGRPCServer(cfg.RPCPort, rpc)
	if err != nil {
		logger.Log().Fatal("Failed to start gRPC server", zap.Error(err))
	}

	httpAPI := api.NewServer(registry, pool, newBackend)
	httpAPI.ModelsDir = cfg.ModelsDir
	httpAPI.StaticDir = cfg.StaticDir
	httpAPI.IdleTimeout = time.Duration(cfg.SessionIdleMs) * time.Millisecond
	httpServer := httpAPI.Start(cfg.HTTPPort)

	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled {
		bridge = mqttbridge.New(cfg.MQTT, registry, pool)
		if err := bridge.Start(); err != nil {
			logger.Log().Error("MQTT bridge disabled", zap.Error(err))
			bridge = nil
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		logger.Log().Info("Signal received, shutting down", zap.String("signal", sig.String()))
	case <-rpc.CloseChannel:
	}

	if bridge != nil {
		bridge.Stop()
	}
	httpAPI.CloseSessions()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("HTTP shutdown", zap.Error(err))
	}
	shutdownCancel()
	grpcServer.GracefulStop()
	cancel()
	pool.Close()
	registry.DestroyAll()
	wg.Wait()
	logger.Log().Info("Safely exited")
}
