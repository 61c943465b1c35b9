package gateway

import "github.com/google/uuid"

// Topic is one of the independently-subscribable facets of timer state.
type Topic string

const (
	TopicProfile Topic = "profile"
	TopicState   Topic = "state"
	TopicMatch   Topic = "match"
)

// Topics lists every valid topic, used for teardown fan-out.
var Topics = []Topic{TopicProfile, TopicState, TopicMatch}

// ParseTopic validates an inbound channel name.
func ParseTopic(s string) (Topic, bool) {
	switch Topic(s) {
	case TopicProfile, TopicState, TopicMatch:
		return Topic(s), true
	}
	return "", false
}

// GroupKey addresses one broadcast group: the set of connections subscribed
// to a topic of a particular timer.
type GroupKey struct {
	TimerID uuid.UUID
	Topic   Topic
}

// CodeDoNotReopen is the close code telling clients not to automatically
// reconnect. Sent on auth failure, unknown timer ids and timer deletion.
const CodeDoNotReopen = 4999
