// Package pipeline compiles a YAML detection spec into the nested
// wrapper properties executed by the detection runner. Detections of
// one rule run in OR relationship, filter stages wrap them in AND
// relationship, and everything is grouped under one merger.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	propClassName        = "className"
	propNested           = "nested"
	propDetector         = "detector"
	propFilter           = "filter"
	propBaselineProvider = "baselineValueProvider"
	propMetricURN        = "metricUrn"
	propNestedMetricURNs = "nestedMetricUrns"
	propMovingWindow     = "isMovingWindowDetection"
	propWindowSize       = "windowSize"
	propWindowUnit       = "windowUnit"
)

const (
	wrapperChildKeepingMerge = "wrapper.childKeepingMerge"
	wrapperDimension         = "wrapper.dimension"
	wrapperAnomalyDetector   = "wrapper.anomalyDetector"
	wrapperAnomalyFilter     = "wrapper.anomalyFilter"
	wrapperBaselineMerge     = "wrapper.baselineFillingMerge"
)

const defaultBaselineType = "rule_baseline"

// detectorToBaseline pins the baseline provider each detector family
// is merged against. Detectors not listed here fall back to the rule
// baseline.
var detectorToBaseline = map[string]string{
	"algorithm": "algorithm_baseline",
}

// movingWindowDetectors lists the detector types that consume a
// sliding window and need the window bounds filled in.
var movingWindowDetectors = map[string]bool{
	"algorithm": true,
}

var (
	ErrMissingMetric  = errors.New("pipeline: property 'metric' is missing")
	ErrMissingDataset = errors.New("pipeline: property 'dataset' is missing")
	ErrNoRules        = errors.New("pipeline: property 'rules' is missing or empty")
)

// Spec is the user-facing YAML shape of one detection pipeline.
type Spec struct {
	Metric      string              `yaml:"metric"`
	Dataset     string              `yaml:"dataset"`
	Granularity string              `yaml:"granularity"`
	Filters     map[string][]string `yaml:"filters"`

	DimensionExploration map[string]interface{} `yaml:"dimension_exploration"`
	Merger               map[string]interface{} `yaml:"merger"`

	Rules []Rule `yaml:"rules"`
}

type Rule struct {
	Name      string  `yaml:"name"`
	Detection []Stage `yaml:"detection"`
	Filter    []Stage `yaml:"filter"`
}

type Stage struct {
	Type       string                 `yaml:"type"`
	ID         int64                  `yaml:"id"`
	WindowSize int                    `yaml:"window_size"`
	WindowUnit string                 `yaml:"window_unit"`
	Params     map[string]interface{} `yaml:"params"`
}

// Properties is one wrapper node of the compiled execution tree.
type Properties map[string]interface{}

// Result is the compiled pipeline: the wrapper tree, the component
// specs referenced from it by key, and the evaluation schedule.
type Result struct {
	Properties Properties
	Components map[string]Properties
	Cron       string
}

type Translator struct {
	registry *Registry
}

func NewTranslator(registry *Registry) *Translator {
	return &Translator{registry: registry}
}

// Parse decodes and compiles a YAML document in one step.
func (t *Translator) Parse(data []byte) (Result, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Result{}, fmt.Errorf("pipeline: bad yaml: %w", err)
	}

	return t.Translate(spec)
}

func (t *Translator) Translate(spec Spec) (Result, error) {
	if err := validate(spec); err != nil {
		return Result{}, err
	}

	metricURN := buildMetricURN(spec)
	components := make(map[string]Properties)

	nestedPipelines := make([]Properties, 0, len(spec.Rules))
	for _, rule := range spec.Rules {
		detections, err := t.buildMergeWrappers(rule, spec, components)
		if err != nil {
			return Result{}, err
		}

		// Each filter stage wraps the whole rule output, so stacked
		// filters apply in AND relationship.
		wrapped := detections
		for _, filter := range rule.Filter {
			wrapped, err = t.buildFilterWrapper(rule.Name, filter, wrapped, components)
			if err != nil {
				return Result{}, err
			}
		}
		nestedPipelines = append(nestedPipelines, wrapped...)
	}

	dimensionProps := buildDimensionWrapper(spec, metricURN, nestedPipelines)
	root := Properties{
		propClassName: wrapperChildKeepingMerge,
		propNested:    []Properties{dimensionProps},
	}
	for key, value := range spec.Merger {
		root[key] = value
	}

	return Result{
		Properties: root,
		Components: components,
		Cron:       buildCron(spec.Granularity),
	}, nil
}

func (t *Translator) buildMergeWrappers(rule Rule, spec Spec, components map[string]Properties) ([]Properties, error) {
	wrappers := make([]Properties, 0, len(rule.Detection))
	for _, detection := range rule.Detection {
		detectorKey := componentKey(rule.Name, detection.Type, detection.ID)
		if err := t.buildComponentSpec(detection, detection.Type, detectorKey, components); err != nil {
			return nil, err
		}

		nested := Properties{
			propClassName: wrapperAnomalyDetector,
			propDetector:  detectorKey,
		}
		fillInWindow(nested, detection, spec.Granularity)

		baselineType := defaultBaselineType
		if mapped, ok := detectorToBaseline[detection.Type]; ok {
			baselineType = mapped
		}
		baselineKey := componentKey(rule.Name, baselineType, detection.ID)
		if err := t.buildComponentSpec(detection, baselineType, baselineKey, components); err != nil {
			return nil, err
		}

		wrapper := Properties{
			propClassName:        wrapperBaselineMerge,
			propNested:           []Properties{nested},
			propBaselineProvider: baselineKey,
		}
		for key, value := range spec.Merger {
			wrapper[key] = value
		}
		wrappers = append(wrappers, wrapper)
	}

	return wrappers, nil
}

func (t *Translator) buildFilterWrapper(ruleName string, filter Stage, nested []Properties, components map[string]Properties) ([]Properties, error) {
	if len(nested) == 0 {
		return nil, nil
	}

	filterKey := componentKey(ruleName, filter.Type, filter.ID)
	if err := t.buildComponentSpec(filter, filter.Type, filterKey, components); err != nil {
		return nil, err
	}

	return []Properties{{
		propClassName: wrapperAnomalyFilter,
		propNested:    nested,
		propFilter:    filterKey,
	}}, nil
}

func (t *Translator) buildComponentSpec(stage Stage, typeTag, key string, components map[string]Properties) error {
	impl, err := t.registry.Lookup(typeTag)
	if err != nil {
		return err
	}

	spec := Properties{propClassName: impl}
	for name, value := range stage.Params {
		spec[name] = value
	}
	components[key] = spec

	return nil
}

// fillInWindow sets the moving window bounds for detectors that need
// one, defaulted per dataset granularity and overridable per stage.
func fillInWindow(props Properties, detection Stage, granularity string) {
	if !movingWindowDetectors[detection.Type] {
		return
	}

	props[propMovingWindow] = true
	switch granularity {
	case "minutes":
		props[propWindowSize] = 6
		props[propWindowUnit] = "hours"
	case "days":
		props[propWindowSize] = 1
		props[propWindowUnit] = "days"
	default:
		props[propWindowSize] = 24
		props[propWindowUnit] = "hours"
	}

	if detection.WindowSize > 0 {
		props[propWindowSize] = detection.WindowSize
	}
	if detection.WindowUnit != "" {
		props[propWindowUnit] = detection.WindowUnit
	}
}

func buildDimensionWrapper(spec Spec, metricURN string, nested []Properties) Properties {
	props := Properties{
		propClassName:        wrapperDimension,
		propNested:           nested,
		propNestedMetricURNs: []string{metricURN},
	}
	if len(spec.DimensionExploration) > 0 {
		for key, value := range spec.DimensionExploration {
			props[key] = value
		}
		props[propMetricURN] = metricURN
	}

	return props
}

// buildMetricURN renders a deterministic identifier of the filtered
// metric; filters are sorted so equal specs compile to equal trees.
func buildMetricURN(spec Spec) string {
	var sb strings.Builder
	sb.WriteString("metric:")
	sb.WriteString(spec.Dataset)
	sb.WriteString(":")
	sb.WriteString(spec.Metric)

	keys := make([]string, 0, len(spec.Filters))
	for key := range spec.Filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := append([]string(nil), spec.Filters[key]...)
		sort.Strings(values)
		for _, value := range values {
			sb.WriteString(":")
			sb.WriteString(key)
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

func buildCron(granularity string) string {
	switch granularity {
	case "minutes":
		return "0 0/15 * * * ? *"
	case "hours":
		return "0 0 * * * ? *"
	case "days":
		return "0 0 14 * * ? *"
	}

	return "0 0 0 * * ?"
}

func validate(spec Spec) error {
	if spec.Metric == "" {
		return ErrMissingMetric
	}
	if spec.Dataset == "" {
		return ErrMissingDataset
	}
	if len(spec.Rules) == 0 {
		return ErrNoRules
	}

	names := make(map[string]struct{}, len(spec.Rules))
	for i, rule := range spec.Rules {
		if rule.Name == "" {
			return fmt.Errorf("pipeline: rule %d has no name", i+1)
		}
		if _, dup := names[rule.Name]; dup {
			return fmt.Errorf("pipeline: duplicated rule name %q", rule.Name)
		}
		names[rule.Name] = struct{}{}

		if len(rule.Detection) == 0 {
			return fmt.Errorf("pipeline: rule %q has no detection stage", rule.Name)
		}
		for _, stage := range rule.Detection {
			if stage.Type == "" {
				return fmt.Errorf("pipeline: rule %q has a detection stage without type", rule.Name)
			}
		}
		for _, stage := range rule.Filter {
			if stage.Type == "" {
				return fmt.Errorf("pipeline: rule %q has a filter stage without type", rule.Name)
			}
		}
	}

	return nil
}

func componentKey(name, typeTag string, id int64) string {
	return fmt.Sprintf("$%s:%s:%d", name, typeTag, id)
}
