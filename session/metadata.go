package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/bitrise-io/go-suas-uploader/ledger"
	"gopkg.in/yaml.v3"
)

// Branches accepted in Metadata.Branch.
var Branches = []string{"Army", "Navy", "Marine Corps", "Air Force", "Space Force", "Coast Guard"}

// Metadata identifies the service member the uploaded files belong to.
type Metadata struct {
	FirstName    string `yaml:"first_name"`
	MiddleName   string `yaml:"middle_name"`
	LastName     string `yaml:"last_name"`
	Branch       string `yaml:"branch"`
	Rank         string `yaml:"rank"`
	SerialNumber string `yaml:"serial_number"`
	BootCamp     string `yaml:"boot_camp"`
	LastUnit     string `yaml:"last_unit"`
}

// Validate checks the fields required before any upload.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.SerialNumber) == "" {
		return fmt.Errorf("serial number is required: %w", ledger.ErrValidationFailed)
	}
	return nil
}

func (m Metadata) validateBranch() error {
	if m.Branch == "" {
		return nil
	}
	for _, b := range Branches {
		if m.Branch == b {
			return nil
		}
	}
	return fmt.Errorf("unknown branch %q (valid: %s): %w", m.Branch, strings.Join(Branches, ", "), ledger.ErrValidationFailed)
}

// ParseMetadata decodes a YAML metadata document.
func ParseMetadata(r io.Reader) (Metadata, error) {
	var m Metadata
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return Metadata{}, nil
		}
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
