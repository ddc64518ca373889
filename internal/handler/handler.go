// Package handler implements the recorder's core data engine (spec.md
// §4.2–§4.5): sample/schema ingest, state-routed buffering, downsampling,
// PendingStore promotion, and the EventWorker-coordinated PAUSED path.
//
// Grounded on the teacher's task.Task struct (firestige-Otus/internal/
// task/task.go) for the shape of a long-lived, mutex-guarded engine with
// a small set of externally-driven lifecycle verbs, generalized here from
// a single capture task to the full §4.2 ingest contract.
package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/otusdds/recorder/internal/eventworker"
	"github.com/otusdds/recorder/internal/model"
	"github.com/otusdds/recorder/internal/pending"
	"github.com/otusdds/recorder/internal/rerr"
	"github.com/otusdds/recorder/internal/writer"
)

// Config mirrors the recorder.* keys of spec.md §6 that govern ingest and
// buffering behavior.
type Config struct {
	BufferSize        int
	EventWindow       time.Duration
	CleanupPeriod     time.Duration
	MaxPendingSamples int
	OnlyWithSchema    bool
	LogPublishTime    bool
	RecordTypes       bool
	ROS2Types         bool
	FileBaseName      string

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// Handler is the ingest engine. One Handler exists per recorder run; the
// Controller drives its lifecycle verbs (Transition, TriggerEvent) and
// never reaches into its buffers directly.
type Handler struct {
	cfg Config
	log *logrus.Entry

	// mu guards state, the sequence counter, and both buffers. It is
	// never held across a Writer call (spec.md §5): flush paths take a
	// drained snapshot under mu, release it, then call the writer under
	// writerMu.
	mu           sync.Mutex
	state        model.State
	sequence     uint64
	buffer       []*model.Sample
	pausedBuffer []*model.Sample
	schemas      map[string]model.Schema
	downsample   map[model.ChannelKey]uint32
	loggedStoppedDrop bool

	// writerMu serializes every call into the Writer, standing in for
	// spec.md §5's independent writer.mtx.
	writerMu sync.Mutex
	writer   writer.Writer
	dynTypes writer.DynamicTypeCollection

	pending *pending.Store
	worker  *eventworker.Worker
}

// New constructs a Handler bound to w. The Handler starts STOPPED; call
// Transition to bring it up.
func New(cfg Config, w writer.Writer, log *logrus.Entry) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &Handler{
		cfg:        cfg,
		log:        log,
		state:      model.StateStopped,
		schemas:    make(map[string]model.Schema),
		downsample: make(map[model.ChannelKey]uint32),
		writer:     w,
	}
	h.pending = pending.New(cfg.MaxPendingSamples, h.onPendingEvict)
	h.worker = eventworker.New(cfg.CleanupPeriod)
	return h
}

// State returns the Handler's current routing state.
func (h *Handler) State() model.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// BytesWritten reports cumulative bytes written via the underlying Writer.
func (h *Handler) BytesWritten() int64 {
	h.writerMu.Lock()
	defer h.writerMu.Unlock()
	return h.writer.BytesWritten()
}

// AddSchema implements spec.md §4.2 add_schema.
func (h *Handler) AddSchema(schema model.Schema) error {
	if h.cfg.ROS2Types {
		_, schema.TypeName = model.DemangleROS2("", schema.TypeName)
	}

	h.mu.Lock()
	if h.state == model.StateStopped {
		h.logStoppedDropLocked("schema", schema.TypeName)
		h.mu.Unlock()
		return nil
	}
	if _, exists := h.schemas[schema.TypeName]; exists {
		h.mu.Unlock()
		return nil
	}
	h.schemas[schema.TypeName] = schema
	h.dynTypes.Add(schema)
	h.mu.Unlock()

	if err := h.registerSchema(schema); err != nil {
		return err
	}

	h.promote(schema.TypeName)
	return nil
}

func (h *Handler) registerSchema(schema model.Schema) error {
	h.writerMu.Lock()
	defer h.writerMu.Unlock()
	if err := h.writer.AddSchema(schema); err != nil {
		return fmt.Errorf("register schema %s: %w", schema.TypeName, err)
	}
	return nil
}

// AddSample implements spec.md §4.2 add_sample.
func (h *Handler) AddSample(sample *model.Sample) error {
	if !sample.Valid() {
		h.log.WithField("topic", sample.TopicName).Warn("rejecting sample with empty payload")
		return fmt.Errorf("%w: empty payload for topic %q", rerr.ErrInconsistency, sample.TopicName)
	}

	if h.cfg.ROS2Types {
		sample.TopicName, sample.TypeName = model.DemangleROS2(sample.TopicName, sample.TypeName)
	}

	h.mu.Lock()
	if h.state == model.StateStopped {
		h.logStoppedDropLocked("sample", sample.TopicName)
		h.mu.Unlock()
		sample.Payload.Release()
		return nil
	}

	if !h.shouldKeepLocked(sample) {
		h.mu.Unlock()
		sample.Payload.Release()
		return nil
	}

	sample.Sequence = h.sequence
	h.sequence++
	sample.LogTimestamp = h.stampLogTimestamp(sample)

	_, hasSchema := h.schemas[sample.TypeName]
	if !hasSchema {
		h.mu.Unlock()
		h.routePending(sample)
		return nil
	}

	batch := h.routeLocked(sample)
	h.mu.Unlock()

	if len(batch) > 0 {
		return h.writeBatch(batch)
	}
	return nil
}

// shouldKeepLocked applies spec.md §3's per-channel downsampling: for
// downsampling = D, the 1st, (D+1)th, (2D+1)th, ... sample (1-indexed
// within the channel) is recorded, yielding ceil(N/D) recorded samples for N
// observed. Must be called with mu held.
func (h *Handler) shouldKeepLocked(sample *model.Sample) bool {
	d := sample.QoS.Downsampling
	if d <= 1 {
		return true
	}
	key := model.ChannelKey{TopicName: sample.TopicName, TypeName: sample.TypeName, QoS: sample.QoS}
	count := h.downsample[key]
	h.downsample[key] = count + 1
	return count%d == 0
}

// stampLogTimestamp implements the recorder.log-publish-time flag: when
// true, log_timestamp mirrors source_timestamp; otherwise it is assigned
// at ingest time.
func (h *Handler) stampLogTimestamp(sample *model.Sample) int64 {
	if h.cfg.LogPublishTime {
		return sample.SourceTimestamp
	}
	return h.cfg.Now().UnixNano()
}

// routeLocked appends sample according to the current state and returns a
// batch to flush if doing so filled the RUNNING buffer. Must be called
// with mu held; SUSPENDED drops the sample.
func (h *Handler) routeLocked(sample *model.Sample) []*model.Sample {
	switch h.state {
	case model.StateRunning:
		h.buffer = append(h.buffer, sample)
		if len(h.buffer) >= h.cfg.BufferSize {
			batch := h.buffer
			h.buffer = nil
			return batch
		}
	case model.StatePaused:
		h.pausedBuffer = append(h.pausedBuffer, sample)
	default: // SUSPENDED
		sample.Payload.Release()
	}
	return nil
}

// routePending implements the no-schema branch of add_sample.
func (h *Handler) routePending(sample *model.Sample) {
	if h.pending.Disabled() {
		if h.cfg.OnlyWithSchema {
			sample.Payload.Release()
			return
		}
		h.writeBlank(sample)
		return
	}
	h.pending.Push(sample.TypeName, sample)
}

// onPendingEvict is PendingStore's EvictedHandler, wired at construction
// (spec.md §4.4 push eviction policy).
func (h *Handler) onPendingEvict(typeName string, s *model.Sample) {
	if h.cfg.OnlyWithSchema {
		h.log.WithField("type", typeName).Warn("pending store at capacity, dropping oldest sample")
		s.Payload.Release()
		return
	}
	h.writeBlank(s)
}

// writeBlank writes s immediately under a placeholder schema, for samples
// that can never wait in a PendingStore (spec.md "Blank schema").
func (h *Handler) writeBlank(s *model.Sample) {
	h.writerMu.Lock()
	defer h.writerMu.Unlock()

	h.mu.Lock()
	_, exists := h.schemas[s.TypeName]
	h.mu.Unlock()

	if !exists {
		blank := model.BlankSchema(s.TypeName)
		if err := h.writer.AddSchema(blank); err != nil {
			h.log.WithError(err).Warn("failed to register blank schema")
		} else {
			h.mu.Lock()
			h.schemas[s.TypeName] = blank
			h.dynTypes.Add(blank)
			h.mu.Unlock()
		}
	}

	if err := h.writer.WriteRecord(s); err != nil {
		h.log.WithError(err).WithField("topic", s.TopicName).Warn("dropping blank-schema record")
	}
	s.Payload.Release()
}

// promote implements spec.md §4.4 promote(type_name).
func (h *Handler) promote(typeName string) {
	samples := h.pending.Drain(typeName)
	if len(samples) == 0 {
		return
	}

	var toFlush []*model.Sample
	h.mu.Lock()
	for _, s := range samples {
		switch h.state {
		case model.StateRunning:
			h.buffer = append(h.buffer, s)
			if len(h.buffer) >= h.cfg.BufferSize {
				toFlush = append(toFlush, h.buffer...)
				h.buffer = nil
			}
		case model.StatePaused:
			cutoff := h.cfg.Now().Add(-h.cfg.EventWindow).UnixNano()
			if s.LogTimestamp < cutoff {
				s.Payload.Release()
				continue
			}
			h.pausedBuffer = append(h.pausedBuffer, s)
		default:
			s.Payload.Release()
		}
	}
	h.mu.Unlock()

	if len(toFlush) > 0 {
		if err := h.writeBatch(toFlush); err != nil {
			h.log.WithError(err).Warn("error flushing promoted samples")
		}
	}
}

// TriggerEvent implements spec.md §4.2 trigger_event.
func (h *Handler) TriggerEvent(ctx context.Context) {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()

	if state != model.StatePaused {
		h.log.Warn("trigger_event ignored: recorder is not PAUSED")
		return
	}
	h.worker.Trigger()
	h.worker.WaitUntilIdle(ctx)
}

// flushPaused is the EventWorker's Flush callback: move the paused buffer
// into the main buffer and write it (spec.md §4.5 "triggered").
func (h *Handler) flushPaused() {
	h.mu.Lock()
	batch := h.pausedBuffer
	h.pausedBuffer = nil
	h.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := h.writeBatch(batch); err != nil {
		h.log.WithError(err).Warn("error flushing paused buffer")
	}
}

// cleanupPaused is the EventWorker's Cleanup callback: drop paused-buffer
// entries older than event_window (spec.md §4.5 "Timeout").
func (h *Handler) cleanupPaused() {
	cutoff := h.cfg.Now().Add(-h.cfg.EventWindow).UnixNano()

	h.mu.Lock()
	kept := h.pausedBuffer[:0]
	var dropped []*model.Sample
	for _, s := range h.pausedBuffer {
		if s.LogTimestamp < cutoff {
			dropped = append(dropped, s)
			continue
		}
		kept = append(kept, s)
	}
	h.pausedBuffer = kept
	h.mu.Unlock()

	for _, s := range dropped {
		s.Payload.Release()
	}
}

// snapshotBufferAndSetState atomically drains the RUNNING buffer and
// commits the new state under a single mu critical section. Transition
// calls this instead of reading/writing h.state and h.buffer as separate
// steps: a sample accepted between those steps would otherwise route
// against the state Transition is in the middle of leaving, into a buffer
// this same call is about to hand off to the writer, and be lost (or, for
// STOPPED->RUNNING, carry a sequence number Transition is about to reset
// out from under it). See Transition's comment for the invariant this
// preserves.
func (h *Handler) snapshotBufferAndSetState(target model.State) []*model.Sample {
	h.mu.Lock()
	batch := h.buffer
	h.buffer = nil
	h.state = target
	h.mu.Unlock()
	return batch
}

// setState commits a state change with no buffer to snapshot, under the
// same atomicity rule as snapshotBufferAndSetState.
func (h *Handler) setState(target model.State) {
	h.mu.Lock()
	h.state = target
	h.mu.Unlock()
}

// drainPendingWithBlankSchemas implements the STOPPED-bound step of
// spec.md §4.3: "if !only_with_schema, promote remaining PendingStore
// with blank schemas and write them".
func (h *Handler) drainPendingWithBlankSchemas() {
	all := h.pending.DrainAll()
	if h.cfg.OnlyWithSchema {
		for _, samples := range all {
			for _, s := range samples {
				s.Payload.Release()
			}
		}
		return
	}
	for _, samples := range all {
		for _, s := range samples {
			h.writeBlank(s)
		}
	}
}

func (h *Handler) writeBatch(batch []*model.Sample) error {
	h.writerMu.Lock()
	defer h.writerMu.Unlock()

	for _, s := range batch {
		if err := h.writer.WriteRecord(s); err != nil {
			h.log.WithError(err).WithField("topic", s.TopicName).Warn("dropping record rejected by writer")
		}
		s.Payload.Release()
	}
	return nil
}

func (h *Handler) logStoppedDropLocked(kind, name string) {
	if h.loggedStoppedDrop {
		return
	}
	h.loggedStoppedDrop = true
	h.log.WithField("kind", kind).WithField("name", name).Debug("dropping input while STOPPED")
}

// startWorker starts the EventWorker for a PAUSED period.
func (h *Handler) startWorker(ctx context.Context) {
	h.worker = eventworker.New(h.cfg.CleanupPeriod)
	h.worker.Start(ctx, h.cleanupPaused, h.flushPaused)
}

// stopWorker stops the EventWorker and discards the paused buffer, per
// every "PAUSED -> X" row of spec.md §4.3.
func (h *Handler) stopWorker() {
	h.worker.Stop()
	h.mu.Lock()
	dropped := h.pausedBuffer
	h.pausedBuffer = nil
	h.mu.Unlock()
	for _, s := range dropped {
		s.Payload.Release()
	}
}

func (h *Handler) openFile() error {
	h.writerMu.Lock()
	defer h.writerMu.Unlock()
	if err := h.writer.Open(h.cfg.FileBaseName); err != nil {
		return fmt.Errorf("%w: open output file: %v", rerr.ErrInitialization, err)
	}
	return nil
}

func (h *Handler) closeFile() error {
	h.writerMu.Lock()
	defer h.writerMu.Unlock()

	if h.cfg.RecordTypes {
		if err := h.writer.WriteMetadata(h.dynTypes); err != nil {
			return fmt.Errorf("%w: write dynamic-type trailer: %v", rerr.ErrInitialization, err)
		}
	}
	if err := h.writer.Close(); err != nil {
		return fmt.Errorf("%w: close output file: %v", rerr.ErrInitialization, err)
	}
	return nil
}

// Transition applies one edge of the table in spec.md §4.3 and returns
// the state the Handler was in before the call, for the Controller's
// status message. Illegal edges (not present in the table) return
// rerr.ErrCommand and leave state unchanged.
//
// Every case below commits h.state (via setState/snapshotBufferAndSetState)
// in the same mu critical section as whatever buffer/sequence mutation the
// edge requires, as early in the case as that mutation is known, rather
// than once at the end after every side effect has run. AddSample only
// ever observes a fully-committed state: either still `from`, routing
// exactly as it did before this call started, or already `target`, routing
// (and sequencing, for STOPPED->RUNNING/PAUSED) under the new regime. There
// is no window where a sample is accepted against `from`'s routing rules
// into a buffer this call has already handed to the writer, or with a
// sequence number this call is about to reset.
//
// One consequence: if a side effect after the commit point fails (closeFile
// on the way to STOPPED), h.state has already moved to target even though
// the transition did not fully complete. By the time closeFile runs, the
// buffer has already been drained and written and pending has already been
// flushed with blank schemas, so reverting to `from` would describe a state
// that no longer has a buffer to route into anyway; the caller sees the
// error and the recorder should be closed regardless.
func (h *Handler) Transition(ctx context.Context, target model.State) (model.State, error) {
	h.mu.Lock()
	from := h.state
	h.mu.Unlock()

	if from == target {
		return from, nil
	}

	if from == model.StatePaused {
		// spec.md §4.5: every command path waits for event_flag ==
		// untriggered before proceeding.
		h.worker.WaitUntilIdle(ctx)
	}

	var err error
	switch {
	case from == model.StateStopped && (target == model.StateRunning || target == model.StatePaused):
		if err = h.openFile(); err != nil {
			break
		}
		h.pending.Reset()
		h.mu.Lock()
		h.sequence = 0
		h.loggedStoppedDrop = false
		h.state = target
		h.mu.Unlock()
		if target == model.StatePaused {
			h.startWorker(ctx)
		}

	case from == model.StateRunning && target == model.StatePaused:
		batch := h.snapshotBufferAndSetState(target)
		err = h.writeBatch(batch)
		h.startWorker(ctx)

	case from == model.StateRunning && target == model.StateSuspended:
		batch := h.snapshotBufferAndSetState(target)
		err = h.writeBatch(batch)

	case from == model.StateRunning && target == model.StateStopped:
		batch := h.snapshotBufferAndSetState(target)
		if err = h.writeBatch(batch); err == nil {
			h.drainPendingWithBlankSchemas()
			err = h.closeFile()
		}

	case from == model.StatePaused && target == model.StateRunning:
		h.setState(target)
		h.stopWorker()

	case from == model.StatePaused && (target == model.StateSuspended || target == model.StateStopped):
		h.setState(target)
		h.stopWorker()
		if target == model.StateStopped {
			h.drainPendingWithBlankSchemas()
			err = h.closeFile()
		}

	case from == model.StateSuspended && target == model.StateRunning:
		h.setState(target)

	case from == model.StateSuspended && target == model.StatePaused:
		h.setState(target)
		h.startWorker(ctx)

	case from == model.StateSuspended && target == model.StateStopped:
		h.setState(target)
		h.drainPendingWithBlankSchemas()
		err = h.closeFile()

	default:
		return from, fmt.Errorf("%w: illegal transition %s -> %s", rerr.ErrCommand, from, target)
	}

	return from, err
}

// Shutdown stops the EventWorker if running, without performing a STOPPED
// transition's file close (used when the process dies mid-PAUSED without
// a clean "close" command, e.g. a signal arriving while WaitUntilIdle is
// already in flight).
func (h *Handler) Shutdown() {
	h.mu.Lock()
	paused := h.state == model.StatePaused
	h.mu.Unlock()
	if paused {
		h.worker.Stop()
	}
}
