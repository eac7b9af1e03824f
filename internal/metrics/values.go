package metrics

// Value is one named metric.
type Value struct {
	Name  string
	Value float64
}

// Values is an ordered metric record, e.g. the result of one training or
// validation pass.
type Values []Value

// Get returns the value named name.
func (v Values) Get(name string) (float64, bool) {
	for _, m := range v {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// Loss returns the "loss" entry, or zero if absent.
func (v Values) Loss() float64 {
	l, _ := v.Get("loss")
	return l
}
