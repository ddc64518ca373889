// Package model holds the recorder's wire-level data types: samples,
// schemas, channels, and the reference-counted payload pool that owns
// sample bytes as they move from ingest through the writer.
package model

import "strings"

// Reliability is the DDS reliability QoS setting for a topic.
type Reliability uint8

const (
	ReliabilityBestEffort Reliability = iota
	ReliabilityReliable
)

// Durability is the DDS durability QoS setting for a topic.
type Durability uint8

const (
	DurabilityVolatile Durability = iota
	DurabilityTransientLocal
)

// Ownership is the DDS ownership QoS setting for a topic.
type Ownership uint8

const (
	OwnershipShared Ownership = iota
	OwnershipExclusive
)

// QoS captures the subset of topic QoS the recorder cares about: it is
// part of a Channel's identity and drives downsampling.
type QoS struct {
	Reliability  Reliability
	Durability   Durability
	Ownership    Ownership
	Keyed        bool
	Downsampling uint32 // 0 or 1 both mean "record every sample"
}

// Key returns a value comparable with ==, suitable for use as (part of) a
// map key identifying a distinct Channel.
func (q QoS) Key() QoS { return q }

// Sample is a single captured DDS publication.
type Sample struct {
	TopicName       string
	TypeName        string
	Payload         *PayloadRef
	SourceTimestamp int64 // ns since epoch, assigned by the publisher
	LogTimestamp    int64 // ns since epoch, assigned at ingest
	Sequence        uint64
	QoS             QoS
}

// Valid reports whether the sample satisfies the persistence invariant of
// spec.md §3: payload.length > 0. Samples failing this check are rejected
// before they ever reach a buffer.
func (s *Sample) Valid() bool {
	return s.Payload != nil && s.Payload.Len() > 0
}

// Schema is the persisted form of a dynamic type, keyed by TypeName.
type Schema struct {
	TypeName      string
	EncodedText   string
	TypeIdentifier []byte
	TypeObject    []byte
}

// BlankSchema returns the placeholder schema emitted per spec.md §4.3/§4.4
// when a sample is written without its real type ever having resolved.
func BlankSchema(typeName string) Schema {
	return Schema{TypeName: typeName}
}

// IsBlank reports whether s is a placeholder schema (spec.md "Blank
// schema" in the GLOSSARY).
func (s Schema) IsBlank() bool {
	return s.EncodedText == "" && len(s.TypeIdentifier) == 0 && len(s.TypeObject) == 0
}

// ChannelKey identifies a distinct (topic, type, qos) triple, per spec.md
// §3 "Channel".
type ChannelKey struct {
	TopicName string
	TypeName  string
	QoS       QoS
}

// Channel is a registered (topic, type, qos) triple with an assigned id,
// used by the chunked-log container to avoid repeating topic/type/qos
// strings per record.
type Channel struct {
	ID   uint16
	Key  ChannelKey
}

// DemangleROS2 converts ROS 2's mangled DDS topic/type names back to their
// ROS 2 form when recorder.ros2-types is enabled (SPEC_FULL.md §3):
//
//	rt/foo                                  -> foo
//	std_msgs::msg::dds_::String_            -> std_msgs/msg/String
//
// Names that do not match the expected mangling are returned unchanged.
func DemangleROS2(topicName, typeName string) (string, string) {
	return demangleTopic(topicName), demangleType(typeName)
}

func demangleTopic(topic string) string {
	switch {
	case strings.HasPrefix(topic, "rt/"):
		return strings.TrimPrefix(topic, "rt/")
	case strings.HasPrefix(topic, "rq/"), strings.HasPrefix(topic, "rr/"):
		return strings.TrimPrefix(strings.TrimPrefix(topic, "rq/"), "rr/")
	default:
		return topic
	}
}

func demangleType(typeName string) string {
	const (
		sep    = "::"
		dds    = "dds_"
		suffix = "_"
	)
	if !strings.Contains(typeName, sep) {
		return typeName
	}
	parts := strings.Split(typeName, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == dds {
			continue
		}
		out = append(out, strings.TrimSuffix(p, suffix))
	}
	return strings.Join(out, "/")
}
