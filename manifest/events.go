package manifest

import "github.com/sirupsen/logrus"

// Event is one structured occurrence emitted during recovery. Kind is
// one of the event-kind constants below; Fields carries whatever
// context is relevant to that kind (purl, uuid, cause, ...).
type Event struct {
	Kind   string
	Fields logrus.Fields
}

const (
	EventCorruptedManifest  = "corrupted_manifest"
	EventInvalidPatch       = "invalid_patch"
	EventRecoveredPatch     = "recovered_patch"
	EventDiscardedPatchPURL = "discarded_patch_purl_mismatch"
	EventDiscardedPatchGone = "discarded_patch_refetch_miss"
	EventRecoveryError      = "recovery_error"
)

// EventSink receives recovery events as they happen, so a caller can
// assert on discrete events instead of scraping log lines.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a plain function to an EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// noopSink discards every event; used when a caller passes a nil sink.
type noopSink struct{}

func (noopSink) Emit(Event) {}

func sinkOrNoop(s EventSink) EventSink {
	if s == nil {
		return noopSink{}
	}
	return s
}
