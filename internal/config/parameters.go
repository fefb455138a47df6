package config

import (
	"bytes"
	_ "embed"
	"os"

	"gopkg.in/yaml.v3"

	"equityaudit/internal/engine"
	"equityaudit/internal/errors"
)

//go:embed defaults.yaml
var defaultParameters []byte

// DefaultParameters returns the built-in audit parameters.
func DefaultParameters() (*engine.Parameters, error) {
	p := &engine.Parameters{}
	if err := decodeStrict(defaultParameters, p); err != nil {
		return nil, errors.Wrap(err, "failed to decode default parameters")
	}
	return p, nil
}

// LoadParameters decodes the calibration file at path over the defaults and
// validates the result. An empty path returns the defaults.
func LoadParameters(path string) (*engine.Parameters, error) {
	p, err := DefaultParameters()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read calibration file %s", path)
		}
		if err := decodeStrict(data, p); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "invalid calibration file %s", path))
		}
	}
	if err := p.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return p, nil
}

// decodeStrict rejects unknown keys so a misspelt parameter is not silently
// ignored.
func decodeStrict(data []byte, p *engine.Parameters) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return err
	}
	return nil
}
