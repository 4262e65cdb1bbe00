package risk

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// SupportedSchemaVersions is the range of catalog file versions this build reads.
const SupportedSchemaVersions = "^1.0.0"

const catalogSchemaURL = "https://changegate.schemas.local/risk/catalog.schema.json"

//go:embed schemas/catalog.schema.json
var catalogSchema []byte

type catalogFile struct {
	SchemaVersion string                    `yaml:"schema_version"`
	Questions     []questionFile            `yaml:"questions"`
	Thresholds    []contracts.RiskThreshold `yaml:"thresholds"`
}

type questionFile struct {
	ID         string                   `yaml:"id"`
	Question   string                   `yaml:"question"`
	Weight     float64                  `yaml:"weight"`
	Answers    []contracts.AnswerOption `yaml:"answers"`
	IsRequired *bool                    `yaml:"is_required"`
	Active     *bool                    `yaml:"active"`
}

// LoadCatalogFile reads a YAML risk catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog validates a YAML catalog document against the embedded
// schema and the supported version range, then builds a Catalog. Missing
// sections fall back to the built-in defaults. Questions are required and
// active unless the file says otherwise.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse risk catalog: %v", contracts.ErrConfiguration, err)
	}
	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: decode risk catalog: %v", contracts.ErrConfiguration, err)
	}
	if err := checkSchemaVersion(file.SchemaVersion); err != nil {
		return nil, err
	}

	questions := DefaultQuestions()
	if file.Questions != nil {
		questions = make([]contracts.RiskAssessmentQuestion, len(file.Questions))
		for i, q := range file.Questions {
			questions[i] = contracts.RiskAssessmentQuestion{
				ID:         q.ID,
				Question:   q.Question,
				Weight:     q.Weight,
				Answers:    q.Answers,
				IsRequired: q.IsRequired == nil || *q.IsRequired,
				Active:     q.Active == nil || *q.Active,
			}
		}
	}
	thresholds := DefaultThresholds()
	if file.Thresholds != nil {
		thresholds = file.Thresholds
	}
	return NewCatalog(questions, thresholds)
}

func validateDocument(raw any) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(catalogSchemaURL, bytes.NewReader(catalogSchema)); err != nil {
		return fmt.Errorf("risk catalog schema load failed: %w", err)
	}
	schema, err := c.Compile(catalogSchemaURL)
	if err != nil {
		return fmt.Errorf("risk catalog schema compile failed: %w", err)
	}

	// Round-trip through JSON so numbers reach the validator as json.Number.
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: risk catalog is not JSON-compatible: %v", contracts.ErrConfiguration, err)
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrConfiguration, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: risk catalog: %v", contracts.ErrConfiguration, err)
	}
	return nil
}

func checkSchemaVersion(v string) error {
	constraint, err := semver.NewConstraint(SupportedSchemaVersions)
	if err != nil {
		return fmt.Errorf("invalid schema version constraint: %w", err)
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: invalid schema_version %q: %v", contracts.ErrConfiguration, v, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("%w: schema_version %s is not supported (want %s)", contracts.ErrConfiguration, v, SupportedSchemaVersions)
	}
	return nil
}

// MarshalCatalog renders questions and thresholds in the catalog file format.
func MarshalCatalog(questions []contracts.RiskAssessmentQuestion, thresholds []contracts.RiskThreshold) ([]byte, error) {
	file := struct {
		SchemaVersion string                             `yaml:"schema_version"`
		Questions     []contracts.RiskAssessmentQuestion `yaml:"questions"`
		Thresholds    []contracts.RiskThreshold          `yaml:"thresholds"`
	}{"1.0.0", questions, thresholds}
	return yaml.Marshal(file)
}
