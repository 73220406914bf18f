package integration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
)

// PipelineState is the lifecycle state of one pipeline
type PipelineState string

const (
	// PipelineStateCreated means the pipeline exists but has never run
	PipelineStateCreated PipelineState = "created"
	// PipelineStateRunning means workers are consuming the input queue
	PipelineStateRunning PipelineState = "running"
	// PipelineStateStopped means the pipeline was stopped after running
	PipelineStateStopped PipelineState = "stopped"
	// PipelineStateError means the pipeline failed to start or stop cleanly
	PipelineStateError PipelineState = "error"
)

// PacketSink is the terminal consumer of a pipeline, typically the analytics
// store or an outbound adapter.
type PacketSink interface {
	Consume(ctx context.Context, packet *integration.DataPacket) error
}

// PacketSinkFunc adapts a function to the PacketSink interface.
type PacketSinkFunc func(ctx context.Context, packet *integration.DataPacket) error

// Consume runs the wrapped function.
func (f PacketSinkFunc) Consume(ctx context.Context, packet *integration.DataPacket) error {
	return f(ctx, packet)
}

// AdapterSink turns an adapter's outbound send into a pipeline sink, so a
// pipeline can terminate in another external system.
func AdapterSink(adapter integration.Adapter) PacketSink {
	return PacketSinkFunc(func(ctx context.Context, packet *integration.DataPacket) error {
		return adapter.Send(ctx, packet, integration.SendOptions{})
	})
}

// PipelineConfig assembles one processing chain. Stages run in order:
// transformers first, then validators, then the sink.
type PipelineConfig struct {
	// Sources lists the adapter ids whose inbound packets feed this
	// pipeline. Empty means every adapter.
	Sources []string
	// Scope attributes the pipeline's events to a tenant.
	Scope integration.Scope
	// Transformers rebuild the packet payload stage by stage.
	Transformers []integration.Transformer
	// Validators reject packets between transformation and the sink.
	Validators []integration.PacketValidator
	// Sink receives fully processed packets. Nil discards them.
	Sink PacketSink
	// BufferSize is the input queue capacity. Defaults to 64.
	BufferSize int
	// Workers is the number of processing goroutines. Defaults to 1.
	Workers int
}

// PipelineCounters are the processing totals reported for aggregate health.
type PipelineCounters struct {
	Received  uint64 `json:"received"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

// PipelineHealth is the manager-facing view of one pipeline.
type PipelineHealth struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	State     PipelineState    `json:"state"`
	Counters  PipelineCounters `json:"counters"`
	LastError string           `json:"last_error,omitempty"`
}

// Pipeline is an ordered, independently lifecycled chain of transformers,
// validators and a sink. The manager owns creation and start/stop; packets
// arrive through Submit from the manager's receive bridge.
type Pipeline struct {
	id     string
	name   string
	cfg    PipelineConfig
	logger *zap.Logger
	events shared.EventPublisher

	received  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64

	mu      sync.Mutex
	state   PipelineState
	lastErr error
	in      chan *integration.DataPacket
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewPipeline creates a pipeline in the created state. events and logger may
// be nil.
func NewPipeline(id, name string, cfg PipelineConfig, events shared.EventPublisher, logger *zap.Logger) (*Pipeline, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: pipeline id is required", shared.ErrInvalidInput)
	}
	if name == "" {
		name = id
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		id:     id,
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("pipeline", id)),
		events: events,
		state:  PipelineStateCreated,
	}, nil
}

// ID returns the pipeline id.
func (p *Pipeline) ID() string { return p.id }

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Scope returns the scope the pipeline was created under.
func (p *Pipeline) Scope() integration.Scope { return p.cfg.Scope }

// State returns the current lifecycle state.
func (p *Pipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Counters returns the processing totals.
func (p *Pipeline) Counters() PipelineCounters {
	return PipelineCounters{
		Received:  p.received.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Health returns the pipeline's health view.
func (p *Pipeline) Health() PipelineHealth {
	p.mu.Lock()
	state, lastErr := p.state, p.lastErr
	p.mu.Unlock()

	h := PipelineHealth{
		ID:       p.id,
		Name:     p.name,
		State:    state,
		Counters: p.Counters(),
	}
	if lastErr != nil {
		h.LastError = lastErr.Error()
	}
	return h
}

// Matches reports whether packets from the given adapter feed this pipeline.
func (p *Pipeline) Matches(adapterID string) bool {
	if len(p.cfg.Sources) == 0 {
		return true
	}
	for _, s := range p.cfg.Sources {
		if s == adapterID {
			return true
		}
	}
	return false
}

// Start spins up the worker goroutines. Starting a running pipeline is an
// error; a stopped pipeline can be started again.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == PipelineStateRunning {
		return fmt.Errorf("%w: %q", integration.ErrPipelineRunning, p.id)
	}

	p.in = make(chan *integration.DataPacket, p.cfg.BufferSize)
	p.stop = make(chan struct{})
	p.state = PipelineStateRunning
	p.lastErr = nil

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("pipeline started", zap.Int("workers", p.cfg.Workers))
	return nil
}

// Stop halts the workers and waits for in-flight packets to finish. Stopping
// a pipeline that is not running is a no-op.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state != PipelineStateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = PipelineStateStopped
	close(p.stop)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.logger.Info("pipeline stopped")
	return nil
}

// Submit queues a packet for processing. It blocks while the buffer is full
// and fails once the pipeline stops or the context ends.
func (p *Pipeline) Submit(ctx context.Context, packet *integration.DataPacket) error {
	p.mu.Lock()
	if p.state != PipelineStateRunning {
		p.mu.Unlock()
		return fmt.Errorf("%w: %q", integration.ErrPipelineStopped, p.id)
	}
	in, stop := p.in, p.stop
	p.mu.Unlock()

	select {
	case in <- packet:
		p.received.Add(1)
		return nil
	case <-stop:
		return fmt.Errorf("%w: %q", integration.ErrPipelineStopped, p.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case packet := <-p.in:
			p.process(packet)
		}
	}
}

// process runs one packet through the chain. Failures are recorded and
// published but never halt the pipeline; the next packet proceeds.
func (p *Pipeline) process(packet *integration.DataPacket) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := p.runStages(ctx, packet)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("packet processing failed",
			zap.String("packet_id", packet.ID),
			zap.String("source", packet.Source),
			zap.Error(err))
		p.publish(ctx, integration.NewDataErrorEvent(p.id, p.cfg.Scope, packet.ID, err))
		return
	}

	p.processed.Add(1)
	p.publish(ctx, integration.NewDataProcessedEvent(p.id, p.cfg.Scope, out.ID))
}

func (p *Pipeline) runStages(ctx context.Context, packet *integration.DataPacket) (*integration.DataPacket, error) {
	current := packet
	for _, tr := range p.cfg.Transformers {
		next, err := tr.TransformInbound(ctx, current.Payload, integration.TransformContext{
			IntegrationID: current.Source,
			SchemaVersion: current.SchemaVersion,
			Metadata:      current.Metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("transformer %q: %w", tr.Name(), err)
		}
		next.Source = current.Source
		current = next
	}

	for _, v := range p.cfg.Validators {
		if err := v.Validate(ctx, current); err != nil {
			return nil, fmt.Errorf("validator %q: %w", v.Name(), err)
		}
	}

	if p.cfg.Sink != nil {
		if err := p.cfg.Sink.Consume(ctx, current); err != nil {
			return nil, fmt.Errorf("sink: %w", err)
		}
	}
	return current, nil
}

func (p *Pipeline) publish(ctx context.Context, event shared.DomainEvent) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, event); err != nil {
		p.logger.Warn("publishing pipeline event failed",
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	}
}
