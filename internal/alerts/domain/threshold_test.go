package alerts

import (
	"math"
	"testing"
)

func TestThresholdRuleCheck(t *testing.T) {
	rule := ThresholdRule{Min: 0, Max: 50}

	cases := []struct {
		name     string
		value    float64
		broken   bool
		typ      AlertType
		severity Severity
	}{
		{name: "inside", value: 25, broken: false},
		{name: "on max", value: 50, broken: false},
		{name: "on min", value: 0, broken: false},
		{name: "just above", value: 53, broken: true, typ: TypeAboveThreshold, severity: SeverityWarning},
		{name: "tie break distance", value: 55, broken: true, typ: TypeAboveThreshold, severity: SeverityCritical},
		{name: "far above", value: 60, broken: true, typ: TypeAboveThreshold, severity: SeverityCritical},
		{name: "just below", value: -4.5, broken: true, typ: TypeBelowThreshold, severity: SeverityWarning},
		{name: "far below", value: -20, broken: true, typ: TypeBelowThreshold, severity: SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			violation, broken := rule.Check(tc.value)
			if broken != tc.broken {
				t.Fatalf("expected broken=%v, got %v", tc.broken, broken)
			}
			if !broken {
				return
			}
			if violation.Type != tc.typ || violation.Severity != tc.severity {
				t.Fatalf("expected %s/%s, got %s/%s", tc.typ, tc.severity, violation.Type, violation.Severity)
			}
		})
	}
}

func TestThresholdRuleValidate(t *testing.T) {
	if err := (ThresholdRule{Min: 10, Max: 1}).Validate(); err == nil {
		t.Fatalf("expected min above max error")
	}
	if err := (ThresholdRule{Min: math.NaN(), Max: 1}).Validate(); err == nil {
		t.Fatalf("expected NaN error")
	}
	if err := (ThresholdRule{Min: 5, Max: 5}).Validate(); err != nil {
		t.Fatalf("expected equal bounds to be valid: %v", err)
	}
}

func TestDefaultThresholds(t *testing.T) {
	table := DefaultThresholds()
	if table.Len() != 13 {
		t.Fatalf("expected 13 default rules, got %d", table.Len())
	}
	rule, ok := table.Lookup("Irradiancia")
	if !ok || rule.Min != 0 || rule.Max != 1500 {
		t.Fatalf("unexpected irradiance rule: %+v ok=%v", rule, ok)
	}
	if rule, ok := table.Lookup("Presion_Alta"); !ok || rule.Max != 500 {
		t.Fatalf("unexpected high pressure rule: %+v ok=%v", rule, ok)
	}
	if _, ok := table.Lookup("Unknown_Sensor"); ok {
		t.Fatalf("expected no rule for unknown sensor")
	}
	sensors := table.Sensors()
	for i := 1; i < len(sensors); i++ {
		if sensors[i-1] > sensors[i] {
			t.Fatalf("expected sorted sensor names, got %v", sensors)
		}
	}
}

func TestThresholdTableMerge(t *testing.T) {
	base := DefaultThresholds()
	merged, err := base.Merge(map[string]ThresholdRule{
		"Irradiancia": {Min: 0, Max: 1200},
		"CO2":         {Min: 0, Max: 2000},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if rule, _ := merged.Lookup("Irradiancia"); rule.Max != 1200 {
		t.Fatalf("expected override, got %+v", rule)
	}
	if merged.Len() != base.Len()+1 {
		t.Fatalf("expected one added rule, got %d", merged.Len())
	}
	if rule, _ := base.Lookup("Irradiancia"); rule.Max != 1500 {
		t.Fatalf("expected base table untouched, got %+v", rule)
	}

	if _, err := base.Merge(map[string]ThresholdRule{"Humedad": {Min: 100, Max: 0}}); err == nil {
		t.Fatalf("expected invalid override error")
	}
	if _, err := NewThresholdTable(map[string]ThresholdRule{"": {Min: 0, Max: 1}}); err == nil {
		t.Fatalf("expected empty sensor name error")
	}
}
