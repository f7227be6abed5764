package engine

import (
	iface "PersonDetServer/interface"
	"PersonDetServer/logger"
	"sync"

	"go.uber.org/zap"
)

var (
	defaultMu       sync.RWMutex
	defaultDetector *Detector
)

// SetDefault installs the process-wide detector behind InitializeModel and
// DetectPerson.
func SetDefault(d *Detector) {
	defaultMu.Lock()
	defaultDetector = d
	defaultMu.Unlock()
}

// ReleaseDefault clears the default detector if it is b, so a backend torn
// down elsewhere is not reached through DetectPerson afterwards.
func ReleaseDefault(b iface.Backend) bool {
	d, ok := b.(*Detector)
	if !ok {
		return false
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultDetector != d {
		return false
	}
	defaultDetector = nil
	return true
}

func Default() *Detector {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultDetector
}

func InitializeModel() bool {
	d := Default()
	if d == nil {
		logger.Log().Error("InitializeModel called without a default detector")
		return false
	}
	return d.Initialize() == nil
}

// DetectPerson reports whether the default detector scores a person above
// its threshold. Every failure reads as no person.
func DetectPerson(image []byte, size int) bool {
	d := Default()
	if d == nil {
		logger.Log().Error("DetectPerson called without a default detector")
		return false
	}
	person, err := d.DetectPerson(image, size)
	if err != nil {
		logger.Log().Error("person detection failed", zap.Error(err))
		return false
	}
	return person
}

// NewBackend returns a constructor for initialized detectors on rt.
func NewBackend(rt Runtime) func(cfg iface.EngineConfig) (iface.Backend, error) {
	return func(cfg iface.EngineConfig) (iface.Backend, error) {
		d := &Detector{}
		d.New(rt)
		if err := d.LoadModel(cfg); err != nil {
			d.Destroy()
			return nil, err
		}
		return d, nil
	}
}
