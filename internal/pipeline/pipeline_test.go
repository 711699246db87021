package pipeline

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func translateFixture(t *testing.T) Result {
	t.Helper()

	data, err := os.ReadFile("testdata/detection.yml")
	require.Nil(t, err)

	result, err := NewTranslator(NewDefaultRegistry()).Parse(data)
	require.Nil(t, err)

	return result
}

func TestTranslate_WrapperTree(t *testing.T) {
	result := translateFixture(t)

	root := result.Properties
	assert.Equal(t, wrapperChildKeepingMerge, root[propClassName])
	assert.Equal(t, 3600000, root["maxGap"])

	nested := root[propNested].([]Properties)
	require.Len(t, nested, 1)

	dimension := nested[0]
	assert.Equal(t, wrapperDimension, dimension[propClassName])
	assert.Equal(t, []string{"browser"}, toStrings(dimension["dimensions"]))
	assert.Equal(t, []string{"metric:hits:page_views:country=de:country=us"}, dimension[propNestedMetricURNs])

	pipelines := dimension[propNested].([]Properties)
	require.Len(t, pipelines, 2)

	// First rule carries a filter stage, so its merge wrapper is
	// nested inside the filter wrapper.
	filtered := pipelines[0]
	assert.Equal(t, wrapperAnomalyFilter, filtered[propClassName])
	assert.Equal(t, "$views_drop:percentage:0", filtered[propFilter])

	merge := filtered[propNested].([]Properties)[0]
	assert.Equal(t, wrapperBaselineMerge, merge[propClassName])
	assert.Equal(t, "$views_drop:rule_baseline:0", merge[propBaselineProvider])
	assert.Equal(t, 3600000, merge["maxGap"])

	detector := merge[propNested].([]Properties)[0]
	assert.Equal(t, wrapperAnomalyDetector, detector[propClassName])
	assert.Equal(t, "$views_drop:threshold:0", detector[propDetector])
	assert.Nil(t, detector[propMovingWindow])
}

func TestTranslate_MovingWindowDetector(t *testing.T) {
	result := translateFixture(t)

	dimension := result.Properties[propNested].([]Properties)[0]
	pipelines := dimension[propNested].([]Properties)

	merge := pipelines[1]
	assert.Equal(t, wrapperBaselineMerge, merge[propClassName])
	assert.Equal(t, "$views_anomaly:algorithm_baseline:0", merge[propBaselineProvider])

	detector := merge[propNested].([]Properties)[0]
	assert.Equal(t, true, detector[propMovingWindow])
	assert.Equal(t, 12, detector[propWindowSize])
	assert.Equal(t, "hours", detector[propWindowUnit])
}

func TestTranslate_Components(t *testing.T) {
	result := translateFixture(t)

	detector, ok := result.Components["$views_drop:threshold:0"]
	require.True(t, ok)
	assert.Equal(t, "detector.threshold", detector[propClassName])
	assert.Equal(t, 1000, detector["min"])

	baseline, ok := result.Components["$views_anomaly:algorithm_baseline:0"]
	require.True(t, ok)
	assert.Equal(t, "baseline.algorithm", baseline[propClassName])

	filter, ok := result.Components["$views_drop:percentage:0"]
	require.True(t, ok)
	assert.Equal(t, "filter.percentage", filter[propClassName])
	assert.Equal(t, 0.1, filter["threshold"])
}

func TestTranslate_Cron(t *testing.T) {
	result := translateFixture(t)
	assert.Equal(t, "0 0 14 * * ? *", result.Cron)
}

func TestTranslate_Validation(t *testing.T) {
	translator := NewTranslator(NewDefaultRegistry())

	_, err := translator.Translate(Spec{Dataset: "hits", Rules: []Rule{{Name: "r"}}})
	assert.Equal(t, ErrMissingMetric, err)

	_, err = translator.Translate(Spec{Metric: "m", Rules: []Rule{{Name: "r"}}})
	assert.Equal(t, ErrMissingDataset, err)

	_, err = translator.Translate(Spec{Metric: "m", Dataset: "hits"})
	assert.Equal(t, ErrNoRules, err)

	_, err = translator.Translate(Spec{
		Metric:  "m",
		Dataset: "hits",
		Rules: []Rule{
			{Name: "r", Detection: []Stage{{Type: "threshold"}}},
			{Name: "r", Detection: []Stage{{Type: "threshold"}}},
		},
	})
	assert.Contains(t, err.Error(), "duplicated rule name")
}

func TestTranslate_UnknownComponentType(t *testing.T) {
	translator := NewTranslator(NewDefaultRegistry())

	_, err := translator.Translate(Spec{
		Metric:  "m",
		Dataset: "hits",
		Rules: []Rule{
			{Name: "r", Detection: []Stage{{Type: "holt_winters"}}},
		},
	})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "unknown component type")
}

func toStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, _ := item.(string)
		out = append(out, s)
	}

	return out
}
