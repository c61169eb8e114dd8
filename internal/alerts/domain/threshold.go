package alerts

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"facade-monitor/internal/telemetry/domain"
)

// SeverityTieBreak is the distance from the violated bound under which a
// violation is only a warning. It applies to every sensor alike.
const SeverityTieBreak = 5.0

// ThresholdRule is the acceptable value range of one sensor.
type ThresholdRule struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Validate checks rule invariants.
func (r ThresholdRule) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) {
		return errors.New("threshold rule: NaN bound")
	}
	if r.Min > r.Max {
		return errors.New("threshold rule: min above max")
	}
	return nil
}

// Violation describes how a value breaks its rule.
type Violation struct {
	Type     AlertType
	Severity Severity
	Boundary float64
}

// Check compares value with the rule. Values inside [Min, Max] pass.
func (r ThresholdRule) Check(value float64) (Violation, bool) {
	switch {
	case value < r.Min:
		return Violation{Type: TypeBelowThreshold, Severity: SeverityFor(value, r.Min), Boundary: r.Min}, true
	case value > r.Max:
		return Violation{Type: TypeAboveThreshold, Severity: SeverityFor(value, r.Max), Boundary: r.Max}, true
	default:
		return Violation{}, false
	}
}

// SeverityFor returns warning when value is strictly closer than the
// tie-break distance to the violated boundary, critical otherwise.
func SeverityFor(value, boundary float64) Severity {
	if math.Abs(value-boundary) < SeverityTieBreak {
		return SeverityWarning
	}
	return SeverityCritical
}

// ThresholdTable is an immutable sensor name to rule lookup.
type ThresholdTable struct {
	rules map[string]ThresholdRule
}

// NewThresholdTable copies and validates the given rules.
func NewThresholdTable(rules map[string]ThresholdRule) (ThresholdTable, error) {
	copied := make(map[string]ThresholdRule, len(rules))
	for sensor, rule := range rules {
		if sensor == "" {
			return ThresholdTable{}, errors.New("threshold table: empty sensor name")
		}
		if err := rule.Validate(); err != nil {
			return ThresholdTable{}, fmt.Errorf("threshold table: %s: %w", sensor, err)
		}
		copied[sensor] = rule
	}
	return ThresholdTable{rules: copied}, nil
}

// DefaultThresholds returns the rules deployed with the facade installations.
func DefaultThresholds() ThresholdTable {
	table, _ := NewThresholdTable(map[string]ThresholdRule{
		"Temperatura_Ambiente": {Min: -10, Max: 50},
		"Irradiancia":          {Min: 0, Max: 1500},
		"Velocidad_Viento":     {Min: 0, Max: 30},
		"Humedad":              {Min: 0, Max: 100},
		"T_ValvulaExpansion":   {Min: -50, Max: 50},
		"T_EntCompresor":       {Min: -50, Max: 80},
		"T_SalCompresor":       {Min: -50, Max: 100},
		"T_SalCondensador":     {Min: -50, Max: 80},
		"T_Entrada_Agua":       {Min: -10, Max: 60},
		"T_Salida_Agua":        {Min: -10, Max: 60},
		"Presion_Alta":         {Min: 0, Max: 500},
		"Presion_Baja":         {Min: 0, Max: 30},
		"Flujo_Agua_LPM":       {Min: 0, Max: 500},
	})
	return table
}

// Merge returns a new table with overrides applied on top of t.
func (t ThresholdTable) Merge(overrides map[string]ThresholdRule) (ThresholdTable, error) {
	merged := make(map[string]ThresholdRule, len(t.rules)+len(overrides))
	for sensor, rule := range t.rules {
		merged[sensor] = rule
	}
	for sensor, rule := range overrides {
		merged[sensor] = rule
	}
	return NewThresholdTable(merged)
}

// Lookup returns the rule of a sensor.
func (t ThresholdTable) Lookup(sensor string) (ThresholdRule, bool) {
	rule, ok := t.rules[sensor]
	return rule, ok
}

// Sensors returns the sensor names with a rule, sorted.
func (t ThresholdTable) Sensors() []string {
	names := make([]string, 0, len(t.rules))
	for sensor := range t.rules {
		names = append(names, sensor)
	}
	sort.Strings(names)
	return names
}

// Bounds lists the rules as telemetry sensor bounds, ordered by sensor.
func (t ThresholdTable) Bounds() []telemetry.SensorBounds {
	sensors := t.Sensors()
	bounds := make([]telemetry.SensorBounds, 0, len(sensors))
	for _, sensor := range sensors {
		rule := t.rules[sensor]
		bounds = append(bounds, telemetry.SensorBounds{Sensor: sensor, Min: rule.Min, Max: rule.Max})
	}
	return bounds
}

// Len returns the number of rules.
func (t ThresholdTable) Len() int {
	return len(t.rules)
}
