// Package config loads form definitions from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jilio/stateform"
	"github.com/jilio/stateform/rules"
	"github.com/jilio/stateform/stores/sqlite"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Format is a definition file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Definition describes a form.
type Definition struct {
	ID           string `yaml:"id" toml:"id"`
	PreserveData bool   `yaml:"preserveData" toml:"preserve_data"`
	// StaleValidationGuard drops deferred results overtaken by a newer
	// validation of the same field.
	StaleValidationGuard bool   `yaml:"staleValidationGuard" toml:"stale_validation_guard"`
	Schema               bool   `yaml:"schema" toml:"schema"`
	LogLevel             string `yaml:"logLevel" toml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	Journal JournalDefinition `yaml:"journal" toml:"journal"`
	Fields  []FieldDefinition `yaml:"fields" toml:"fields" validate:"dive"`
}

// JournalDefinition configures the SQLite journal. An empty path disables
// journaling.
type JournalDefinition struct {
	Path            string `yaml:"path" toml:"path"`
	StreamBatchSize int    `yaml:"streamBatchSize" toml:"stream_batch_size" validate:"gte=0"`
}

// FieldDefinition describes one field.
type FieldDefinition struct {
	Name    string `yaml:"name" toml:"name" validate:"required"`
	Label   string `yaml:"label" toml:"label"`
	Initial any    `yaml:"initial" toml:"initial"`
	Default any    `yaml:"default" toml:"default"`
	// NoDefault excludes the field from Reset.
	NoDefault bool `yaml:"noDefault" toml:"no_default"`
	// Rules is a go-playground/validator tag, e.g. "required,email".
	Rules string `yaml:"rules" toml:"rules"`
}

// ValidationError lists the problems found in a definition.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid form definition %s: %s", e.Source, strings.Join(e.Problems, "; "))
}

// Load reads a definition file. The format is picked from the extension.
func Load(path string) (*Definition, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".toml":
		format = FormatTOML
	default:
		return nil, fmt.Errorf("unsupported definition file %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition %s: %w", path, err)
	}
	return parse(path, data, format)
}

// Parse decodes a definition.
func Parse(data []byte, format Format) (*Definition, error) {
	return parse("<bytes>", data, format)
}

func parse(source string, data []byte, format Format) (*Definition, error) {
	def := &Definition{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, def)
	case FormatTOML:
		err = toml.Unmarshal(data, def)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing definition %s: %w", source, err)
	}

	if err := def.validate(source); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *Definition) validate(source string) error {
	var problems []string

	err := validator.New().Struct(d)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
		}
	} else if err != nil {
		problems = append(problems, err.Error())
	}

	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name != "" && seen[f.Name] {
			problems = append(problems, fmt.Sprintf("field %q is defined twice", f.Name))
		}
		seen[f.Name] = true
	}

	if len(problems) > 0 {
		return &ValidationError{Source: source, Problems: problems}
	}
	return nil
}

// Rules returns the validator rules of the fields that declare any.
func (d *Definition) Rules() *rules.Rules {
	tags := make(map[string]string)
	var opts []rules.Option
	for _, f := range d.Fields {
		if f.Rules != "" {
			tags[f.Name] = f.Rules
		}
		if f.Label != "" {
			opts = append(opts, rules.WithLabel(f.Name, f.Label))
		}
	}
	return rules.New(tags, opts...)
}

// Values returns the initial and default values of the form.
func (d *Definition) Values() (initial, defaults stateform.Values) {
	initial = make(stateform.Values, len(d.Fields))
	defaults = make(stateform.Values, len(d.Fields))
	for _, f := range d.Fields {
		initial[f.Name] = f.Initial
		switch {
		case f.NoDefault:
			defaults[f.Name] = stateform.NoDefault
		case f.Default != nil:
			defaults[f.Name] = f.Default
		default:
			defaults[f.Name] = f.Initial
		}
	}
	return initial, defaults
}

// Logger builds a production zap logger at the configured level.
func (d *Definition) Logger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if d.LogLevel != "" {
		level, err := zapcore.ParseLevel(d.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	return cfg.Build()
}

// OpenJournal opens the configured journal, or returns a nil *sqlite.Journal
// when none is configured. The nil result may be passed to
// stateform.WithJournal, which then records nothing.
func (d *Definition) OpenJournal(logger *zap.Logger) (*sqlite.Journal, error) {
	if d.Journal.Path == "" {
		return nil, nil
	}
	return sqlite.New(d.Journal.Path,
		sqlite.WithLogger(logger),
		sqlite.WithStreamBatchSize(d.Journal.StreamBatchSize),
	)
}

// Options returns the form options of the definition. Extra options are
// applied after them.
func (d *Definition) Options(extra ...stateform.Option) []stateform.Option {
	initial, defaults := d.Values()
	opts := []stateform.Option{
		stateform.WithInitialValues(initial),
		stateform.WithDefaultValues(defaults),
		stateform.WithPreserveData(d.PreserveData),
	}
	if d.ID != "" {
		opts = append(opts, stateform.WithID(d.ID))
	}
	if d.StaleValidationGuard {
		opts = append(opts, stateform.WithStaleValidationGuard())
	}

	r := d.Rules()
	if len(r.Fields()) > 0 {
		if d.Schema {
			opts = append(opts, stateform.WithSchema(r))
		} else {
			opts = append(opts, stateform.WithValidations(r.Validations()))
		}
	}
	return append(opts, extra...)
}
