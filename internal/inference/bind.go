package inference

// Binding is the result of matching declared tensor names against the names
// a checkpoint actually provides.
type Binding struct {
	Bound   []string // declared and present, in checkpoint order
	Missing []string // declared but absent from the checkpoint
	Extra   []string // present in the checkpoint but never declared
}

// BindNonStrict matches declared names against available ones without
// failing on a mismatch. An empty declared list binds everything available.
func BindNonStrict(declared, available []string) Binding {
	if len(declared) == 0 {
		return Binding{Bound: append([]string(nil), available...)}
	}

	want := make(map[string]bool, len(declared))
	for _, n := range declared {
		want[n] = true
	}
	have := make(map[string]bool, len(available))

	var b Binding
	for _, n := range available {
		have[n] = true
		if want[n] {
			b.Bound = append(b.Bound, n)
		} else {
			b.Extra = append(b.Extra, n)
		}
	}
	for _, n := range declared {
		if !have[n] {
			b.Missing = append(b.Missing, n)
		}
	}
	return b
}
