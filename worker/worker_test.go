package worker

import (
	iface "PersonDetServer/interface"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockBackend struct {
	mu        sync.Mutex
	destroyed bool
	calls     atomic.Int32
	panicOnce atomic.Bool
	block     chan struct{}
}

func (m *MockBackend) Initialize() error { return nil }

func (m *MockBackend) Classify(image []byte, size int) (iface.Detection, error) {
	m.calls.Add(1)
	if m.block != nil {
		<-m.block
	}
	if m.panicOnce.CompareAndSwap(true, false) {
		panic("kernel exploded")
	}
	if size != len(image) {
		return iface.Detection{}, errors.New("bad size")
	}
	return iface.Detection{Person: image[0] > 127, Score: float32(image[0]) / 256, Raw: int32(image[0])}, nil
}

func (m *MockBackend) Input() (iface.InputSpec, error) {
	return iface.InputSpec{Type: "uint8", Shape: []int{1, 2, 2, 1}, ByteSize: 4}, nil
}

func (m *MockBackend) Destroy() {
	m.mu.Lock()
	m.destroyed = true
	m.mu.Unlock()
}

func (m *MockBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{ModelPath: "mock", Threshold: 0.5, PersonIndex: 1}
}

func (m *MockBackend) Status() string { return "idle" }

func (m *MockBackend) isDestroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a, b := &MockBackend{}, &MockBackend{}
	idA := r.Add(a, "first")
	time.Sleep(time.Millisecond)
	idB := r.Add(b, "second")
	assert.NotEqual(t, idA, idB)

	_, ok := r.Default()
	assert.False(t, ok)
	assert.False(t, r.SetDefault("nope"))
	assert.True(t, r.SetDefault(idA))

	e, ok := r.Default()
	require.True(t, ok)
	assert.Equal(t, "first", e.Description)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, idA, all[0].ID)
	assert.Equal(t, idB, all[1].ID)

	assert.True(t, r.Remove(idA))
	assert.True(t, a.isDestroyed())
	assert.False(t, r.Remove(idA))
	_, ok = r.Default()
	assert.False(t, ok, "removing the default clears it")

	r.DestroyAll()
	assert.True(t, b.isDestroyed())
	assert.Empty(t, r.All())
}

func TestRegistry_OnRemove(t *testing.T) {
	r := NewRegistry()
	var removed []string
	r.OnRemove = func(e *Engine) {
		assert.False(t, e.Backend.(*MockBackend).isDestroyed(), "hook runs before Destroy")
		removed = append(removed, e.Description)
	}
	idA := r.Add(&MockBackend{}, "first")
	r.Add(&MockBackend{}, "second")

	assert.True(t, r.Remove(idA))
	assert.False(t, r.Remove(idA))
	assert.Equal(t, []string{"first"}, removed)

	r.DestroyAll()
	assert.Equal(t, []string{"first", "second"}, removed)
}

func TestPool_Submit(t *testing.T) {
	p := NewPool(4)
	p.StartWorker(2)
	defer p.Close()

	backend := &MockBackend{}
	det, err := p.Submit(context.Background(), backend, []byte{200, 0, 0, 0}, 4)
	require.NoError(t, err)
	assert.True(t, det.Person)
	assert.Equal(t, int32(200), det.Raw)

	_, err = p.Submit(context.Background(), backend, []byte{1}, 4)
	assert.Error(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v byte) {
			defer wg.Done()
			det, err := p.Submit(context.Background(), backend, []byte{v, 0, 0, 0}, 4)
			assert.NoError(t, err)
			assert.Equal(t, int32(v), det.Raw)
		}(byte(i * 10))
	}
	wg.Wait()
	assert.Equal(t, int32(22), backend.calls.Load())
}

func TestPool_RecoversFromPanic(t *testing.T) {
	RestartDelay = 10 * time.Millisecond
	defer func() { RestartDelay = time.Second }()

	p := NewPool(1)
	p.StartWorker(1)
	defer p.Close()

	backend := &MockBackend{}
	backend.panicOnce.Store(true)
	_, err := p.Submit(context.Background(), backend, []byte{200, 0, 0, 0}, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	det, err := p.Submit(context.Background(), backend, []byte{200, 0, 0, 0}, 4)
	require.NoError(t, err)
	assert.True(t, det.Person)
}

func TestPool_ContextCancelled(t *testing.T) {
	p := NewPool(1)
	p.StartWorker(1)
	defer p.Close()

	backend := &MockBackend{block: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, backend, []byte{200, 0, 0, 0}, 4)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(backend.block)
}

func TestPool_Closed(t *testing.T) {
	p := NewPool(1)
	p.StartWorker(1)
	p.Close()
	_, err := p.Submit(context.Background(), &MockBackend{}, []byte{1, 2, 3, 4}, 4)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_Detect(t *testing.T) {
	p := NewPool(2)
	p.StartWorker(1)
	defer p.Close()
	backend := &MockBackend{}

	det, err := p.Detect(context.Background(), backend, []byte{150, 0, 0, 0}, 0)
	require.NoError(t, err, "zero size means the whole buffer")
	assert.True(t, det.Person)

	_, err = p.Detect(context.Background(), backend, []byte{150, 0, 0, 0}, 3)
	assert.Error(t, err)

	garbage := append([]byte{0xff, 0xd8, 0xff}, make([]byte, 16)...)
	_, err = p.Detect(context.Background(), backend, garbage, 0)
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestPool_DetectFrame(t *testing.T) {
	p := NewPool(2)
	p.StartWorker(1)
	defer p.Close()
	backend := &MockBackend{}

	// A tensor whose first bytes happen to match the JPEG magic.
	jpegLike := []byte{0xff, 0xd8, 0xff, 0x00}
	det, err := p.DetectFrame(context.Background(), backend, jpegLike, 0, FrameRaw)
	require.NoError(t, err)
	assert.Equal(t, int32(0xff), det.Raw)
	assert.True(t, det.Person)

	_, err = p.DetectFrame(context.Background(), backend, jpegLike, 0, FrameAuto)
	assert.ErrorIs(t, err, ErrBadFrame)

	_, err = p.DetectFrame(context.Background(), backend, []byte{1, 2, 3, 4}, 0, FrameEncoded)
	assert.ErrorIs(t, err, ErrBadFrame)

	assert.Equal(t, "raw", FrameRaw.String())
	assert.Equal(t, "auto", FrameAuto.String())
}
