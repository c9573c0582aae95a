package kmetrics

import (
	"context"
	"strings"
	"sync"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// Kmetric means 1 metric. One Kmetric usually carries multiple time
// sequences, one per tag combination, such as event="PopWorker",
// event="RegisterWorker", etc. Backed by an opencensus sum view so the
// prometheus exporter picks it up for free.
type Kmetric struct {
	mu          sync.Mutex // guards sequences; held for every GetTimeSequence lookup
	metricName  string
	description string
	tagKeys     []tag.Key
	measure     *stats.Int64Measure
	sequences   map[string]*TimeSequence
}

func CreateKmetric(ctx context.Context, name string, description string, tags []string) *Kmetric {
	km := &Kmetric{
		metricName:  name,
		description: description,
		measure:     stats.Int64(name, description, stats.UnitDimensionless),
		sequences:   map[string]*TimeSequence{},
	}
	for _, tagName := range tags {
		km.tagKeys = append(km.tagKeys, tag.MustNewKey(tagName))
	}
	err := view.Register(&view.View{
		Name:        name,
		Description: description,
		Measure:     km.measure,
		TagKeys:     km.tagKeys,
		Aggregation: view.Sum(),
	})
	if err != nil {
		klogging.Warning(ctx).WithError(err).With("name", name).Log("KmetricRegister", "view register failed")
	}
	return km
}

func makeSequenceKey(tags ...string) string {
	return strings.Join(tags, "-")
}

// GetTimeSequence: the tags list has to be the same len as the tag names in
// the Kmetric, same order as well.
func (km *Kmetric) GetTimeSequence(ctx context.Context, tags ...string) *TimeSequence {
	key := makeSequenceKey(tags...)
	km.mu.Lock()
	defer km.mu.Unlock()
	sequence, ok := km.sequences[key]
	if ok {
		return sequence
	}
	if len(tags) != len(km.tagKeys) {
		klogging.Fatal(ctx).With("name", km.metricName).With("tags", key).Log("KmetricTagMismatch", "tag count mismatch")
	}
	mutators := make([]tag.Mutator, 0, len(tags))
	for i, val := range tags {
		mutators = append(mutators, tag.Upsert(km.tagKeys[i], val))
	}
	sequence = &TimeSequence{
		parent:   km,
		mutators: mutators,
	}
	km.sequences[key] = sequence
	return sequence
}

// TimeSequence is one tagged series of a Kmetric.
type TimeSequence struct {
	parent   *Kmetric
	mutators []tag.Mutator
}

func (ts *TimeSequence) Add(value int64) {
	_ = stats.RecordWithTags(context.Background(), ts.mutators, ts.parent.measure.M(value))
}
