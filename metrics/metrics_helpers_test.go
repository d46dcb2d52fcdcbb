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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collectMetric returns the data of the named metric from a single
// collection of reader.
func collectMetric(t *testing.T, ctx context.Context, reader *metric.ManualReader, metricName string) metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm), "reader.Collect")
	require.Len(t, rm.ScopeMetrics, 1, "expected 1 scope metric")

	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name == metricName {
			return m.Data
		}
	}
	require.FailNow(t, "metric not found", metricName)
	return nil
}

// verifySumMetric checks the data point of a counter or up-down counter
// matching attrs.
func verifySumMetric(t *testing.T, ctx context.Context, reader *metric.ManualReader, metricName string, attrs attribute.Set, expectedValue int64) {
	t.Helper()
	encoder := attribute.DefaultEncoder()
	data, ok := collectMetric(t, ctx, reader, metricName).(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not a Sum[int64]", metricName)

	for _, dp := range data.DataPoints {
		if dp.Attributes.Encoded(encoder) == attrs.Encoded(encoder) {
			assert.Equal(t, expectedValue, dp.Value, "metric value mismatch for attributes: %s", attrs.Encoded(encoder))
			return
		}
	}
	require.FailNow(t, "data point not found", "attributes %v in %s", attrs.Encoded(encoder), metricName)
}

// verifyHistogramMetric checks the sample count of the histogram data point
// matching attrs.
func verifyHistogramMetric(t *testing.T, ctx context.Context, reader *metric.ManualReader, metricName string, attrs attribute.Set, expectedCount uint64) {
	t.Helper()
	encoder := attribute.DefaultEncoder()
	data, ok := collectMetric(t, ctx, reader, metricName).(metricdata.Histogram[int64])
	require.True(t, ok, "metric %s is not a Histogram[int64]", metricName)

	for _, dp := range data.DataPoints {
		if dp.Attributes.Encoded(encoder) == attrs.Encoded(encoder) {
			assert.Equal(t, expectedCount, dp.Count, "metric count mismatch for attributes: %s", attrs.Encoded(encoder))
			return
		}
	}
	require.FailNow(t, "data point not found", "attributes %v in %s", attrs.Encoded(encoder), metricName)
}
