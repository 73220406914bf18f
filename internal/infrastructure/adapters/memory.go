package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

const defaultSimulatorInterval = 5 * time.Second

// MemoryAdapter is an in-process loopback: Send fans the packet back out to
// the adapter's own subscribers. With the connection param "simulate" set it
// also emits synthetic machine telemetry on an interval, which makes it the
// workhorse for demos and soak runs without any external system.
//
// Registered for the "custom" system type.
type MemoryAdapter struct {
	*BaseAdapter

	simulate bool
	interval time.Duration
	faker    *gofakeit.Faker
	machine  string

	simMu   sync.Mutex
	simStop chan struct{}
	simWG   sync.WaitGroup
}

// NewMemoryAdapter creates a memory adapter from its config. Recognized
// connection params: "simulate" (bool) and "interval" (duration, simulator
// emit period).
func NewMemoryAdapter(cfg *integration.IntegrationConfig, logger *zap.Logger) (*MemoryAdapter, error) {
	faker := gofakeit.New(0)
	return &MemoryAdapter{
		BaseAdapter: NewBaseAdapter(cfg, logger),
		simulate:    cfg.BoolParam("simulate", false),
		interval:    cfg.DurationParam("interval", defaultSimulatorInterval),
		faker:       faker,
		machine:     fmt.Sprintf("%s-%02d", strings.ToLower(faker.Word()), faker.Number(1, 99)),
	}, nil
}

// Initialize implements integration.Adapter.
func (a *MemoryAdapter) Initialize(ctx context.Context) error {
	a.setService(integration.ServiceStatusReady)
	return nil
}

// Start implements integration.Adapter.
func (a *MemoryAdapter) Start(ctx context.Context) error {
	a.setService(integration.ServiceStatusRunning)
	return nil
}

// Stop implements integration.Adapter.
func (a *MemoryAdapter) Stop(ctx context.Context) error {
	a.stopSimulator()
	a.setConnection(integration.ConnectionStatusDisconnected)
	a.setService(integration.ServiceStatusOffline)
	return nil
}

// Connect implements integration.Adapter.
func (a *MemoryAdapter) Connect(ctx context.Context) error {
	a.setConnection(integration.ConnectionStatusConnected)
	if a.simulate {
		a.startSimulator()
	}
	return nil
}

// Disconnect implements integration.Adapter.
func (a *MemoryAdapter) Disconnect(ctx context.Context) error {
	a.stopSimulator()
	a.setConnection(integration.ConnectionStatusDisconnected)
	return nil
}

// Reconnect implements integration.Adapter.
func (a *MemoryAdapter) Reconnect(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	return a.Connect(ctx)
}

// TestConnection implements integration.Adapter. The loopback is reachable
// whenever the adapter itself is running.
func (a *MemoryAdapter) TestConnection(ctx context.Context) (bool, error) {
	return a.Status().IsActive(), nil
}

// Latency implements integration.Adapter. In-process delivery has no
// measurable round trip.
func (a *MemoryAdapter) Latency(ctx context.Context) (time.Duration, error) {
	return 0, nil
}

// Health implements integration.Adapter.
func (a *MemoryAdapter) Health(ctx context.Context) (integration.ServiceHealth, error) {
	return a.health(map[string]any{"simulate": a.simulate}), nil
}

// Send implements integration.Adapter by looping the packet back to this
// adapter's subscribers.
func (a *MemoryAdapter) Send(ctx context.Context, packet *integration.DataPacket, opts integration.SendOptions) error {
	if !a.connected() {
		return integration.NewConnectionError(a.ID(), "memory adapter is not connected", nil)
	}

	out := a.outbound(packet, opts)
	a.markSent()
	a.dispatch(ctx, out)
	return nil
}

func (a *MemoryAdapter) startSimulator() {
	a.simMu.Lock()
	defer a.simMu.Unlock()

	if a.simStop != nil {
		return
	}
	stop := make(chan struct{})
	a.simStop = stop
	a.simWG.Add(1)
	go func() {
		defer a.simWG.Done()
		a.runSimulator(stop)
	}()
}

func (a *MemoryAdapter) stopSimulator() {
	a.simMu.Lock()
	stop := a.simStop
	a.simStop = nil
	a.simMu.Unlock()

	if stop != nil {
		close(stop)
		a.simWG.Wait()
	}
}

func (a *MemoryAdapter) runSimulator(stop <-chan struct{}) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !a.connected() {
				continue
			}
			a.dispatch(context.Background(), a.telemetryPacket())
		}
	}
}

// telemetryPacket fabricates one machine reading.
func (a *MemoryAdapter) telemetryPacket() *integration.DataPacket {
	packet := integration.NewDataPacket(a.ID(), map[string]any{
		"machine":     a.machine,
		"temperature": a.faker.Float64Range(18, 95),
		"vibration":   a.faker.Float64Range(0, 12),
		"rpm":         a.faker.Number(600, 3200),
		"state":       a.faker.RandomString([]string{"running", "idle", "alarm"}),
	})
	packet.Metadata["simulated"] = "true"
	return packet
}

var _ integration.Adapter = (*MemoryAdapter)(nil)
