// Package pipeline batches manifest rows into an output writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/kb-backup/config"
	"github.com/aluiziolira/kb-backup/models"
	"github.com/aluiziolira/kb-backup/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when the worker does not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for pending rows to be written.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for manifest output.
type OutputWriter interface {
	Write(records []*models.ExportRecord) error
	Close() error
	Validate() error
}

// Pipeline validates manifest rows and writes them in batches. A single
// worker keeps rows in submission order.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	recordCh  chan *models.ExportRecord
	batchSize int

	wg      sync.WaitGroup
	started bool

	metrics metrics

	mu     sync.Mutex // guards started/closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	writerOnce   sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	buffer := cfg.PipelineBufferSize
	if buffer <= 0 {
		buffer = 1
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		recordCh:  make(chan *models.ExportRecord, buffer),
		batchSize: batch,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches the worker. Calling it more than once has no effect.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.started {
		return
	}
	p.started = true
	p.wg.Add(1)
	go p.worker()
}

// Process enqueues manifest rows. Nil rows are ignored.
func (p *Pipeline) Process(records ...*models.ExportRecord) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		if record == nil {
			continue
		}
		if err := p.enqueue(record); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting rows, waits for the worker to flush, validates the
// output when rows were written and closes the writer. It is safe to call
// more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	started := p.started
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	if started {
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			p.signalShutdown()
			return ErrPipelineCloseTimeout
		}
	}
	p.signalShutdown()

	p.writerOnce.Do(func() {
		if p.metrics.processedCount() > 0 {
			if err := p.writer.Validate(); err != nil {
				p.setErr(fmt.Errorf("validate output: %w", err))
			}
		}
		if err := p.writer.Close(); err != nil {
			p.setErr(fmt.Errorf("close writer: %w", err))
		}
	})
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until Close or until the
// pipeline context ends.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snapshot := p.GetMetrics()
				slog.Info("manifest progress",
					slog.Int64("processed", snapshot["processed_records"].(int64)),
					slog.Int("rejected", len(snapshot["validation_errors"].(map[string]int))),
				)
			case <-p.shutdown:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.ExportRecord, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		p.metrics.addBatch()
		batch = batch[:0]
		return nil
	}

	for record := range p.recordCh {
		if !p.accept(record) {
			continue
		}
		batch = append(batch, record)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) accept(record *models.ExportRecord) bool {
	if err := parser.ValidateRecord(record); err != nil {
		p.metrics.addValidation("invalid_record")
		slog.Warn("dropping manifest row", slog.Int64("id", record.ID), slog.Any("error", err))
		return false
	}
	p.metrics.incrementProcessed()
	return true
}

// enqueue blocks while the buffer is full. Rows submitted after the run
// context is canceled are still accepted so the manifest covers every
// exported article.
func (p *Pipeline) enqueue(record *models.ExportRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.recordCh <- record:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	batches    int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) processedCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed
}

func (m *metrics) addBatch() {
	m.mu.Lock()
	m.batches++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"written_batches":   m.batches,
		"validation_errors": copyValidation,
	}
}
