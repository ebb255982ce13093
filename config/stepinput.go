package config

// EnvGetter is the subset of env.Repository the parser reads from.
type EnvGetter interface {
	Get(key string) string
}

// InputParser ...
type InputParser interface {
	Parse(input interface{}) error
}

type defaultInputParser struct {
	envGetter EnvGetter
}

// NewInputParser ...
func NewInputParser(envGetter EnvGetter) InputParser {
	return defaultInputParser{
		envGetter: envGetter,
	}
}

// Parse fills the `env` tagged fields of the struct pointed to by input.
func (p defaultInputParser) Parse(input interface{}) error {
	if err := parse(input, p.envGetter); err != nil {
		return err
	}
	return nil
}
