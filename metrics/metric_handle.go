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
	"time"
)

// Values of the job_kind attribute.
const (
	JobKindMount            = "mount"
	JobKindUnmount          = "unmount"
	JobKindOpenForRead      = "open_for_read"
	JobKindOpenForWrite     = "open_for_write"
	JobKindQueryInfo        = "query_info"
	JobKindRead             = "read"
	JobKindWrite            = "write"
	JobKindSeek             = "seek"
	JobKindTruncate         = "truncate"
	JobKindClose            = "close"
	JobKindChannelQueryInfo = "channel_query_info"
	JobKindError            = "error"
)

// Values of the reply_type attribute.
const (
	ReplyTypeData      = "DATA"
	ReplyTypeError     = "ERROR"
	ReplyTypeSeekPos   = "SEEK_POS"
	ReplyTypeWritten   = "WRITTEN"
	ReplyTypeClosed    = "CLOSED"
	ReplyTypeInfo      = "INFO"
	ReplyTypeTruncated = "TRUNCATED"
)

// Values of the cancel_target attribute.
const (
	CancelTargetRunning = "running"
	CancelTargetQueued  = "queued"
)

// MetricHandle records daemon and channel activity.
type MetricHandle interface {
	// JobsCount - The cumulative number of jobs started, by kind.
	JobsCount(inc int64, jobKind string)

	// JobLatency - The cumulative distribution of job latencies, by kind.
	JobLatency(ctx context.Context, duration time.Duration, jobKind string)

	// RepliesCount - The cumulative number of replies written on channels.
	RepliesCount(inc int64, replyType string)

	// CancellationsCount - The cumulative number of honoured CANCEL requests,
	// split by whether the target was running or still queued.
	CancellationsCount(inc int64, cancelTarget string)

	// ActiveChannels - The number of channels currently open.
	ActiveChannels(inc int64)

	// ReadAheadCount - The cumulative number of read-ahead requests issued.
	ReadAheadCount(inc int64)
}
