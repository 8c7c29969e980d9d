package utils

import (
	"slices"

	"github.com/nats-io/nats.go"
)

// StreamConfigEqual reports whether two stream configs agree on the fields this service manages.
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Retention == b.Retention &&
		a.MaxMsgs == b.MaxMsgs &&
		a.MaxAge == b.MaxAge &&
		a.Storage == b.Storage &&
		slices.Equal(a.Subjects, b.Subjects)
}

// ConsumerConfigEqual reports whether two consumer configs agree on the fields this service manages.
// Filter subjects are compared as a set since the server may return them reordered.
func ConsumerConfigEqual(a, b nats.ConsumerConfig) bool {
	return a.Durable == b.Durable &&
		a.AckPolicy == b.AckPolicy &&
		a.FilterSubject == b.FilterSubject &&
		a.MaxDeliver == b.MaxDeliver &&
		a.DeliverGroup == b.DeliverGroup &&
		sameSet(a.FilterSubjects, b.FilterSubjects)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
