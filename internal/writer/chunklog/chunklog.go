// Package chunklog implements the "chunked binary log" container of
// spec.md §6: per-record framing referencing schemas/channels declared
// once, with the dynamic-type collection written as a single metadata
// record before close.
//
// Rotation mechanics are grounded on the teacher's lumberjack-based log
// rotation (gopkg.in/natefinch/lumberjack.v2): a timestamp-suffixed
// "roll to a new file, keep writing" convention. lumberjack itself is not
// reused directly because it rotates on raw byte count with no concept of
// record framing — rotating mid-record would corrupt the container. This
// writer instead rolls at a record boundary and reuses only the naming
// convention.
package chunklog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/otusdds/recorder/internal/model"
	"github.com/otusdds/recorder/internal/rerr"
	"github.com/otusdds/recorder/internal/writer"
)

// Record kinds, written as a single leading byte per spec.md §6's framing
// (channel_id, sequence, log_time, publish_time, payload_length, payload)
// plus the schema/channel declaration records this package adds to
// satisfy "schemas and channels are declared once and referenced by id".
const (
	kindSchema byte = iota + 1
	kindChannel
	kindRecord
	kindMetadata
)

// Config configures one chunklog Writer.
type Config struct {
	Dir            string
	Extension      string // e.g. ".ddsrec"; defaults to ".chunklog"
	Limits         writer.ResourceLimits
	TimestampFunc  func() time.Time // overridable in tests; defaults to time.Now
	TimestampUTC   bool
	TimestampLayout string // Go time.Format layout (strftime directives are not interpreted); empty disables the timestamp component
}

// Writer implements writer.Writer as a sequence of framed records across
// one or more rotated files.
type Writer struct {
	cfg Config

	baseName   string
	rotationN  int
	curFile    *os.File
	curBuf     *bufio.Writer
	curSize     int64
	aggSize     int64
	totalBytes  int64
	recordCount int64

	recordsSinceFlush int
	closedFiles       []string // oldest first, for RotationDeleteOldest

	channels map[model.ChannelKey]uint16
	nextChID uint16
	schemas  map[string]struct{} // TypeNames already registered

	dynTypes writer.DynamicTypeCollection
}

// New constructs a chunklog writer. Call Open before writing.
func New(cfg Config) *Writer {
	if cfg.Extension == "" {
		cfg.Extension = ".chunklog"
	}
	if cfg.TimestampFunc == nil {
		cfg.TimestampFunc = time.Now
	}
	return &Writer{
		cfg:      cfg,
		channels: make(map[model.ChannelKey]uint16),
		schemas:  make(map[string]struct{}),
	}
}

var _ writer.Writer = (*Writer)(nil)

// Open implements writer.Writer.
func (w *Writer) Open(fileBaseName string) error {
	if err := w.cfg.Limits.Normalize(false); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrConfiguration, err)
	}
	w.baseName = fileBaseName
	w.rotationN = 0
	return w.openNext()
}

// fileName builds "<base>[_<timestamp>][_<N>]<ext>" per spec.md §4.6.
func (w *Writer) fileName() string {
	name := w.baseName
	if w.cfg.TimestampLayout != "" {
		ts := w.cfg.TimestampFunc()
		if w.cfg.TimestampUTC {
			ts = ts.UTC()
		}
		name += "_" + ts.Format(w.cfg.TimestampLayout)
	}
	if w.rotationN > 0 {
		name += fmt.Sprintf("_%d", w.rotationN)
	}
	return name + w.cfg.Extension
}

func (w *Writer) openNext() error {
	finalName := w.fileName()
	tmpName := finalName + ".tmp~"

	f, err := os.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", rerr.ErrInitialization, tmpName, err)
	}
	w.curFile = f
	w.curBuf = bufio.NewWriter(f)
	w.curSize = 0
	w.recordsSinceFlush = 0

	// Re-declare every known schema/channel in the new file: each output
	// file must be independently readable without the previous one.
	for typeName := range w.schemas {
		if err := w.writeSchemaRecord(typeName); err != nil {
			return err
		}
	}
	for key, id := range w.channels {
		if err := w.writeChannelRecord(id, key); err != nil {
			return err
		}
	}
	return nil
}

// currentFinalName is the current file's name without its ".tmp~" suffix,
// i.e. the name fileName produced when openNext created it.
func (w *Writer) currentFinalName() string {
	tmpName := w.curFile.Name()
	return tmpName[:len(tmpName)-len(".tmp~")]
}

// AddSchema implements writer.Writer.
func (w *Writer) AddSchema(schema model.Schema) error {
	if _, ok := w.schemas[schema.TypeName]; ok {
		return nil // at most one schema per TypeName (spec.md §3 invariant)
	}
	w.schemas[schema.TypeName] = struct{}{}
	w.dynTypes.Add(schema)
	return w.writeSchemaRecordFull(schema)
}

func (w *Writer) writeSchemaRecord(typeName string) error {
	for _, s := range w.dynTypes.Schemas {
		if s.TypeName == typeName {
			return w.writeSchemaRecordFull(s)
		}
	}
	return w.writeSchemaRecordFull(model.BlankSchema(typeName))
}

func (w *Writer) writeSchemaRecordFull(s model.Schema) error {
	buf := newFrameBuilder(kindSchema)
	buf.writeString(s.TypeName)
	buf.writeString(s.EncodedText)
	buf.writeBytes(s.TypeIdentifier)
	buf.writeBytes(s.TypeObject)
	return w.writeFrame(buf)
}

// AddChannel implements writer.Writer.
func (w *Writer) AddChannel(channel model.Channel) error {
	key := channel.Key
	if _, ok := w.channels[key]; ok {
		return nil // one channel per distinct triple (spec.md §3 invariant)
	}
	id := w.nextChID
	w.nextChID++
	w.channels[key] = id
	return w.writeChannelRecord(id, key)
}

func (w *Writer) writeChannelRecord(id uint16, key model.ChannelKey) error {
	buf := newFrameBuilder(kindChannel)
	buf.writeUint16(id)
	buf.writeString(key.TopicName)
	buf.writeString(key.TypeName)
	buf.writeQoS(key.QoS)
	return w.writeFrame(buf)
}

// WriteRecord implements writer.Writer.
func (w *Writer) WriteRecord(sample *model.Sample) error {
	if !sample.Valid() {
		return fmt.Errorf("%w: empty payload for topic %q", rerr.ErrInconsistency, sample.TopicName)
	}

	key := model.ChannelKey{TopicName: sample.TopicName, TypeName: sample.TypeName, QoS: sample.QoS}
	chID, ok := w.channels[key]
	if !ok {
		chID = w.nextChID
		w.nextChID++
		w.channels[key] = chID
		if err := w.writeChannelRecord(chID, key); err != nil {
			return err
		}
	}

	buf := newFrameBuilder(kindRecord)
	buf.writeUint16(chID)
	buf.writeUint64(sample.Sequence)
	buf.writeInt64(sample.LogTimestamp)
	buf.writeInt64(sample.SourceTimestamp)
	buf.writeBytes(sample.Payload.Bytes())

	recordSize := int64(buf.len())
	if err := w.maybeRotate(recordSize); err != nil {
		return err
	}

	if err := w.writeFrame(buf); err != nil {
		return err
	}
	w.recordCount++
	return nil
}

// RecordsWritten reports the number of kindRecord frames committed,
// excluding schema/channel/metadata frames, for metrics and tests.
func (w *Writer) RecordsWritten() int64 {
	return w.recordCount
}

// maybeRotate enforces spec.md §4.6's per-file and aggregate limits
// before a record is written.
func (w *Writer) maybeRotate(recordSize int64) error {
	limits := w.cfg.Limits
	if limits.MaxFileSize > 0 && w.curSize+recordSize+limits.SafetyMargin > limits.MaxFileSize {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	if limits.MaxSize > 0 && w.aggSize+w.curSize+recordSize > limits.MaxSize {
		switch limits.Policy() {
		case writer.RotationDeleteOldest:
			if err := w.deleteOldestClosedFile(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: aggregate max-size %d reached", rerr.ErrCapacity, limits.MaxSize)
		}
	}
	return nil
}

func (w *Writer) rotate() error {
	if err := w.closeCurrentFile(false); err != nil {
		return err
	}
	w.rotationN++
	return w.openNext()
}

func (w *Writer) deleteOldestClosedFile() error {
	if len(w.closedFiles) == 0 {
		return fmt.Errorf("%w: no closed file to delete for rotation", rerr.ErrCapacity)
	}
	oldest := w.closedFiles[0]
	w.closedFiles = w.closedFiles[1:]
	info, statErr := os.Stat(oldest)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete oldest file %s: %v", rerr.ErrCapacity, oldest, err)
	}
	if statErr == nil {
		w.aggSize -= info.Size()
	}
	return nil
}

func (w *Writer) writeFrame(b *frameBuilder) error {
	n, err := w.curBuf.Write(b.bytes())
	if err != nil {
		return fmt.Errorf("%w: write record: %v", rerr.ErrInitialization, err)
	}
	w.curSize += int64(n)
	w.totalBytes += int64(n)
	w.recordsSinceFlush++

	if w.cfg.Limits.ShouldFlush(w.recordsSinceFlush) {
		return w.flush()
	}
	return nil
}

func (w *Writer) flush() error {
	if err := w.curBuf.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", rerr.ErrInitialization, err)
	}
	if err := w.curFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", rerr.ErrInitialization, err)
	}
	w.recordsSinceFlush = 0
	return nil
}

// WriteMetadata implements writer.Writer.
func (w *Writer) WriteMetadata(collection writer.DynamicTypeCollection) error {
	buf := newFrameBuilder(kindMetadata)
	buf.writeUint32(uint32(len(collection.Schemas)))
	for _, s := range collection.Schemas {
		buf.writeString(s.TypeName)
		buf.writeBytes(s.TypeIdentifier)
		buf.writeBytes(s.TypeObject)
	}
	return w.writeFrame(buf)
}

// Close implements writer.Writer.
func (w *Writer) Close() error {
	return w.closeCurrentFile(true)
}

func (w *Writer) closeCurrentFile(keepForReuse bool) error {
	if w.curFile == nil {
		return nil
	}
	// No metadata trailer is written here: the caller writes the single
	// trailer through WriteMetadata before Close, and a file closed by a
	// mid-run rotation carries none.

	if err := w.flush(); err != nil {
		return err
	}
	tmpName := w.curFile.Name()
	if err := w.curFile.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", rerr.ErrInitialization, err)
	}

	finalName := w.currentFinalName()
	if err := os.Rename(tmpName, finalName); err != nil {
		return fmt.Errorf("%w: finalize %s: %v", rerr.ErrInitialization, finalName, err)
	}

	w.aggSize += w.curSize
	w.closedFiles = append(w.closedFiles, finalName) // append order is oldest first
	w.curFile = nil
	w.curBuf = nil
	return nil
}

// BytesWritten implements writer.Writer.
func (w *Writer) BytesWritten() int64 {
	return w.totalBytes
}

// ClosedFiles returns the finalized file paths produced so far, oldest
// first, for tests checking spec.md §8 property 8 (rotation set).
func (w *Writer) ClosedFiles() []string {
	out := make([]string, len(w.closedFiles))
	copy(out, w.closedFiles)
	return out
}

// frameBuilder accumulates one record's bytes: a uint32 length prefix, a
// kind byte, then the payload — simple varint-free framing that keeps
// record boundaries intact across rotation.
type frameBuilder struct {
	kind    byte
	payload []byte
}

func newFrameBuilder(kind byte) *frameBuilder {
	return &frameBuilder{kind: kind}
}

func (b *frameBuilder) writeUint16(v uint16) {
	b.payload = binary.BigEndian.AppendUint16(b.payload, v)
}
func (b *frameBuilder) writeUint32(v uint32) {
	b.payload = binary.BigEndian.AppendUint32(b.payload, v)
}
func (b *frameBuilder) writeUint64(v uint64) {
	b.payload = binary.BigEndian.AppendUint64(b.payload, v)
}
func (b *frameBuilder) writeInt64(v int64) {
	b.writeUint64(uint64(v))
}
func (b *frameBuilder) writeBytes(v []byte) {
	b.writeUint32(uint32(len(v)))
	b.payload = append(b.payload, v...)
}
func (b *frameBuilder) writeString(v string) {
	b.writeBytes([]byte(v))
}
func (b *frameBuilder) writeQoS(q model.QoS) {
	flags := byte(q.Reliability) | byte(q.Durability)<<1 | byte(q.Ownership)<<2
	if q.Keyed {
		flags |= 1 << 3
	}
	b.payload = append(b.payload, flags)
	b.writeUint32(q.Downsampling)
}

func (b *frameBuilder) len() int {
	return 4 + 1 + len(b.payload) // length prefix + kind + payload
}

func (b *frameBuilder) bytes() []byte {
	out := make([]byte, 0, b.len())
	out = binary.BigEndian.AppendUint32(out, uint32(1+len(b.payload)))
	out = append(out, b.kind)
	out = append(out, b.payload...)
	return out
}
