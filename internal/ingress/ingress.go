// Package ingress defines the recorder's external collaborator
// boundaries (spec.md §1): a DDS ingress delivering samples, a dynamic
// type registry resolving schemas, and a topic-name filter applied before
// either ever reaches the Handler.
//
// Grounded on the teacher's Capturer capability shape
// (firestige-Otus/pkg/plugin/capturer.go): a small interface handed a
// channel to publish onto, rather than one that owns the transport
// itself. DDS transport is explicitly out of scope (spec.md §1); only the
// interface and a test fake (package fake) exist here.
package ingress

import (
	"context"
	"strings"

	"github.com/otusdds/recorder/internal/model"
)

// DDSIngress delivers samples from a live (or simulated) DDS domain.
// Run blocks until ctx is cancelled or the ingress fails irrecoverably;
// Samples yields every accepted sample in arrival order.
type DDSIngress interface {
	Run(ctx context.Context) error
	Samples() <-chan model.Sample
}

// TypeRegistry resolves a type name to its Schema, asynchronously,
// exactly once per type name (spec.md §9 "Dynamic-type resolution").
type TypeRegistry interface {
	Resolve(typeName string, cb func(model.Schema))
}

// TopicFilter implements the supplemented allow/block/whitelist feature
// (SPEC_FULL.md §3): a name-level predicate consulted by the ingress
// before a sample is ever handed to the Handler.
type TopicFilter struct {
	allowlist map[string]struct{}
	blocklist map[string]struct{}
}

// NewTopicFilter builds a filter from the three dds.* config lists.
// allowlist and whitelist are treated identically (the original
// configuration format carries both spellings); an empty allowlist means
// "no allow-restriction", letting everything through except blocklist
// entries.
func NewTopicFilter(whitelist, allowlist, blocklist []string) TopicFilter {
	f := TopicFilter{}
	if len(whitelist) > 0 || len(allowlist) > 0 {
		f.allowlist = make(map[string]struct{}, len(whitelist)+len(allowlist))
		for _, t := range whitelist {
			f.allowlist[t] = struct{}{}
		}
		for _, t := range allowlist {
			f.allowlist[t] = struct{}{}
		}
	}
	if len(blocklist) > 0 {
		f.blocklist = make(map[string]struct{}, len(blocklist))
		for _, t := range blocklist {
			f.blocklist[t] = struct{}{}
		}
	}
	return f
}

// Allows reports whether topicName may reach the Handler.
func (f TopicFilter) Allows(topicName string) bool {
	topicName = strings.TrimSpace(topicName)
	if f.blocklist != nil {
		if _, blocked := f.blocklist[topicName]; blocked {
			return false
		}
	}
	if f.allowlist == nil {
		return true
	}
	_, allowed := f.allowlist[topicName]
	return allowed
}
