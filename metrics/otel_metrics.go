// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gvfs-go/gvfsd/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const logInterval = 5 * time.Minute

var (
	unrecognizedAttr atomic.Value

	jobKinds = []string{
		JobKindMount, JobKindUnmount, JobKindOpenForRead, JobKindOpenForWrite,
		JobKindQueryInfo, JobKindRead, JobKindWrite, JobKindSeek,
		JobKindTruncate, JobKindClose, JobKindChannelQueryInfo, JobKindError,
	}
	replyTypes = []string{
		ReplyTypeData, ReplyTypeError, ReplyTypeSeekPos, ReplyTypeWritten,
		ReplyTypeClosed, ReplyTypeInfo, ReplyTypeTruncated,
	}
	cancelTargets = []string{CancelTargetRunning, CancelTargetQueued}
)

// attributedCounter keeps one atomic per declared attribute value. Values
// outside the declared set are dropped and reported by the sampled logger.
type attributedCounter struct {
	name    string
	atomics map[string]*atomic.Int64
	attrs   map[string]metric.ObserveOption
}

func newAttributedCounter(name, key string, values []string) *attributedCounter {
	c := &attributedCounter{
		name:    name,
		atomics: make(map[string]*atomic.Int64, len(values)),
		attrs:   make(map[string]metric.ObserveOption, len(values)),
	}
	for _, v := range values {
		c.atomics[v] = new(atomic.Int64)
		c.attrs[v] = metric.WithAttributeSet(attribute.NewSet(attribute.String(key, v)))
	}
	return c
}

func (c *attributedCounter) add(inc int64, value string) {
	if inc < 0 {
		logger.Errorf("Counter metric %s received a negative increment: %d", c.name, inc)
		return
	}
	a, ok := c.atomics[value]
	if !ok {
		updateUnrecognizedAttribute(value)
		return
	}
	a.Add(inc)
}

func (c *attributedCounter) observe(obsrv metric.Int64Observer) {
	for v, a := range c.atomics {
		conditionallyObserve(obsrv, a, c.attrs[v])
	}
}

type histogramRecord struct {
	ctx        context.Context
	instrument metric.Int64Histogram
	value      int64
	attributes metric.RecordOption
}

type otelMetrics struct {
	ch chan histogramRecord
	wg *sync.WaitGroup

	jobsCount          *attributedCounter
	repliesCount       *attributedCounter
	cancellationsCount *attributedCounter

	activeChannelsAtomic *atomic.Int64
	readAheadCountAtomic *atomic.Int64

	jobLatency      metric.Int64Histogram
	jobLatencyAttrs map[string]metric.RecordOption
}

func (o *otelMetrics) JobsCount(inc int64, jobKind string) {
	o.jobsCount.add(inc, jobKind)
}

func (o *otelMetrics) JobLatency(ctx context.Context, latency time.Duration, jobKind string) {
	attrs, ok := o.jobLatencyAttrs[jobKind]
	if !ok {
		updateUnrecognizedAttribute(jobKind)
		return
	}
	record := histogramRecord{ctx: ctx, instrument: o.jobLatency, value: latency.Microseconds(), attributes: attrs}

	select {
	case o.ch <- record: // Do nothing
	default: // Unblock writes to channel if it's full.
	}
}

func (o *otelMetrics) RepliesCount(inc int64, replyType string) {
	o.repliesCount.add(inc, replyType)
}

func (o *otelMetrics) CancellationsCount(inc int64, cancelTarget string) {
	o.cancellationsCount.add(inc, cancelTarget)
}

func (o *otelMetrics) ActiveChannels(inc int64) {
	o.activeChannelsAtomic.Add(inc)
}

func (o *otelMetrics) ReadAheadCount(inc int64) {
	if inc < 0 {
		logger.Errorf("Counter metric channel/read_ahead_count received a negative increment: %d", inc)
		return
	}
	o.readAheadCountAtomic.Add(inc)
}

// NewOTelMetrics registers the gvfsd instruments with the global meter
// provider. Histogram samples are recorded by workers goroutines fed through
// a buffer of bufferSize; samples are dropped when the buffer is full.
func NewOTelMetrics(ctx context.Context, workers int, bufferSize int) (*otelMetrics, error) {
	ch := make(chan histogramRecord, bufferSize)
	var wg sync.WaitGroup
	startSampledLogging(ctx)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range ch {
				if record.attributes != nil {
					record.instrument.Record(record.ctx, record.value, record.attributes)
				} else {
					record.instrument.Record(record.ctx, record.value)
				}
			}
		}()
	}
	meter := otel.Meter("gvfsd")

	jobsCount := newAttributedCounter("daemon/jobs_count", "job_kind", jobKinds)
	repliesCount := newAttributedCounter("channel/replies_count", "reply_type", replyTypes)
	cancellationsCount := newAttributedCounter("channel/cancellations_count", "cancel_target", cancelTargets)
	var activeChannelsAtomic, readAheadCountAtomic atomic.Int64

	_, err0 := meter.Int64ObservableCounter("daemon/jobs_count",
		metric.WithDescription("The cumulative number of jobs started, by kind."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			jobsCount.observe(obsrv)
			return nil
		}))

	_, err1 := meter.Int64ObservableCounter("channel/replies_count",
		metric.WithDescription("The cumulative number of replies written on channels, by reply type."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			repliesCount.observe(obsrv)
			return nil
		}))

	_, err2 := meter.Int64ObservableCounter("channel/cancellations_count",
		metric.WithDescription("The cumulative number of honoured cancel requests."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			cancellationsCount.observe(obsrv)
			return nil
		}))

	_, err3 := meter.Int64ObservableUpDownCounter("channel/active_channels",
		metric.WithDescription("The number of channels currently open."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			observeUpDownCounter(obsrv, &activeChannelsAtomic)
			return nil
		}))

	_, err4 := meter.Int64ObservableCounter("channel/read_ahead_count",
		metric.WithDescription("The cumulative number of read-ahead requests issued."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			conditionallyObserve(obsrv, &readAheadCountAtomic)
			return nil
		}))

	jobLatency, err5 := meter.Int64Histogram("daemon/job_latencies",
		metric.WithDescription("The cumulative distribution of job latencies, by kind."),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(50, 100, 200, 500, 1000, 2000, 5000, 10000, 20000, 50000, 100000, 200000, 500000, 1000000, 2000000, 5000000, 10000000, 60000000))

	errs := []error{err0, err1, err2, err3, err4, err5}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	jobLatencyAttrs := make(map[string]metric.RecordOption, len(jobKinds))
	for _, k := range jobKinds {
		jobLatencyAttrs[k] = metric.WithAttributeSet(attribute.NewSet(attribute.String("job_kind", k)))
	}

	return &otelMetrics{
		ch:                   ch,
		wg:                   &wg,
		jobsCount:            jobsCount,
		repliesCount:         repliesCount,
		cancellationsCount:   cancellationsCount,
		activeChannelsAtomic: &activeChannelsAtomic,
		readAheadCountAtomic: &readAheadCountAtomic,
		jobLatency:           jobLatency,
		jobLatencyAttrs:      jobLatencyAttrs,
	}, nil
}

func (o *otelMetrics) Close() {
	close(o.ch)
	o.wg.Wait()
}

func conditionallyObserve(obsrv metric.Int64Observer, counter *atomic.Int64, obsrvOptions ...metric.ObserveOption) {
	if val := counter.Load(); val > 0 {
		obsrv.Observe(val, obsrvOptions...)
	}
}

func observeUpDownCounter(obsrv metric.Int64Observer, counter *atomic.Int64, obsrvOptions ...metric.ObserveOption) {
	obsrv.Observe(counter.Load(), obsrvOptions...)
}

func updateUnrecognizedAttribute(newValue string) {
	unrecognizedAttr.CompareAndSwap("", newValue)
}

// startSampledLogging starts a goroutine that logs unrecognized attributes
// periodically.
func startSampledLogging(ctx context.Context) {
	unrecognizedAttr.Store("")

	go func() {
		ticker := time.NewTicker(logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logUnrecognizedAttribute()
			}
		}
	}()
}

// logUnrecognizedAttribute retrieves and logs any unrecognized attributes.
func logUnrecognizedAttribute() {
	if currentAttr := unrecognizedAttr.Swap("").(string); currentAttr != "" {
		logger.Tracef("Attribute %s is not declared", currentAttr)
	}
}
