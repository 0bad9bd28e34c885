package trigger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wavecore/botdetect/internal/signal"
	"github.com/wavecore/botdetect/internal/trigger"
)

type fakeEvidence struct {
	prob  float64
	count int
}

func (f fakeEvidence) BotProbability() float64            { return f.prob }
func (f fakeEvidence) SuccessfulContributionCount() int    { return f.count }

func TestSignalExists(t *testing.T) {
	s := signal.NewSink(0, 0, nil)
	c := trigger.SignalExists{Key: "ua.suspicious"}
	assert.False(t, c.Evaluate(s, fakeEvidence{}))

	s.Raise("ua.suspicious", true, "x")
	assert.True(t, c.Evaluate(s, fakeEvidence{}))
}

func TestSignalEquals(t *testing.T) {
	s := signal.NewSink(0, 0, nil)
	s.Raise("ua.family", "chrome", "x")
	assert.True(t, trigger.SignalEquals{Key: "ua.family", Value: "chrome"}.Evaluate(s, fakeEvidence{}))
	assert.False(t, trigger.SignalEquals{Key: "ua.family", Value: "firefox"}.Evaluate(s, fakeEvidence{}))
}

func TestSignalGreaterAndLessThan(t *testing.T) {
	s := signal.NewSink(0, 0, nil)
	s.Raise("score", 0.5, "x")

	assert.True(t, trigger.SignalGreaterThan{Key: "score", Threshold: 0.3}.Evaluate(s, fakeEvidence{}))
	assert.False(t, trigger.SignalGreaterThan{Key: "score", Threshold: 0.6}.Evaluate(s, fakeEvidence{}))
	assert.True(t, trigger.SignalLessThan{Key: "score", Threshold: 0.6}.Evaluate(s, fakeEvidence{}))
	assert.False(t, trigger.SignalLessThan{Key: "score", Threshold: 0.3}.Evaluate(s, fakeEvidence{}))
}

func TestRiskExceeds(t *testing.T) {
	c := trigger.RiskExceeds{Threshold: 0.8}
	assert.False(t, c.Evaluate(nil, fakeEvidence{prob: 0.5}))
	assert.True(t, c.Evaluate(nil, fakeEvidence{prob: 0.9}))
}

func TestDetectorCount(t *testing.T) {
	c := trigger.DetectorCount{Min: 2}
	assert.False(t, c.Evaluate(nil, fakeEvidence{count: 1}))
	assert.True(t, c.Evaluate(nil, fakeEvidence{count: 2}))
}

func TestAnyOfAndAllOf(t *testing.T) {
	s := signal.NewSink(0, 0, nil)
	s.Raise("a", true, "x")

	anyOf := trigger.AnyOf{Conditions: []trigger.Condition{
		trigger.SignalExists{Key: "a"},
		trigger.SignalExists{Key: "b"},
	}}
	assert.True(t, anyOf.Evaluate(s, fakeEvidence{}))

	allOf := trigger.AllOf{Conditions: []trigger.Condition{
		trigger.SignalExists{Key: "a"},
		trigger.SignalExists{Key: "b"},
	}}
	assert.False(t, allOf.Evaluate(s, fakeEvidence{}))
}

func TestAllOf_VacuouslyTrueWhenEmpty(t *testing.T) {
	allOf := trigger.AllOf{}
	assert.True(t, allOf.Evaluate(nil, fakeEvidence{}))
}

func TestEvaluateAll_EmptyListAlwaysSatisfied(t *testing.T) {
	assert.True(t, trigger.EvaluateAll(nil, nil, fakeEvidence{}))
}

func TestEvaluateAll_RequiresEveryCondition(t *testing.T) {
	s := signal.NewSink(0, 0, nil)
	s.Raise("a", true, "x")
	conds := []trigger.Condition{
		trigger.SignalExists{Key: "a"},
		trigger.SignalExists{Key: "b"},
	}
	assert.False(t, trigger.EvaluateAll(conds, s, fakeEvidence{}))

	s.Raise("b", true, "x")
	assert.True(t, trigger.EvaluateAll(conds, s, fakeEvidence{}))
}

func TestKeys_CollectsLeafSignalKeysOnly(t *testing.T) {
	c := trigger.AllOf{Conditions: []trigger.Condition{
		trigger.SignalExists{Key: "a"},
		trigger.AnyOf{Conditions: []trigger.Condition{
			trigger.SignalGreaterThan{Key: "b", Threshold: 0.5},
			trigger.RiskExceeds{Threshold: 0.9},
		}},
	}}
	keys := trigger.Keys(c)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestKeys_NoKeysForEvidenceOnlyConditions(t *testing.T) {
	assert.Nil(t, trigger.Keys(trigger.RiskExceeds{Threshold: 0.5}))
	assert.Nil(t, trigger.Keys(trigger.DetectorCount{Min: 1}))
}
