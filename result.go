package dagflow

// Result maps each requested output name to its computed value.
type Result map[string]any

// ResultBuilder shapes the values of a finished execution into what the
// caller receives.
type ResultBuilder interface {
	Build(values map[string]any, outputs []string) (Result, error)
}

// ResultBuilderFunc adapts a function to ResultBuilder.
type ResultBuilderFunc func(values map[string]any, outputs []string) (Result, error)

func (f ResultBuilderFunc) Build(values map[string]any, outputs []string) (Result, error) {
	return f(values, outputs)
}

// DictResult projects the execution values onto the requested outputs.
type DictResult struct{}

func (DictResult) Build(values map[string]any, outputs []string) (Result, error) {
	res := make(Result, len(outputs))
	for _, name := range outputs {
		v, ok := values[name]
		if !ok {
			return nil, &MissingOutputError{Name: name}
		}
		res[name] = v
	}
	return res, nil
}

// Bool returns the output stored under name as a bool. Side-effecting nodes
// report completion this way.
func (r Result) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

// String returns the output stored under name as a string.
func (r Result) String(name string) string {
	s, _ := r[name].(string)
	return s
}
