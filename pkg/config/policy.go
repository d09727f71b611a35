package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/rollout/pkg/types"
	"gopkg.in/yaml.v3"
)

// PolicyKind is the kind of a policy document
const PolicyKind = "RolloutPolicy"

// PolicyResource is one policy document in a policy file
type PolicyResource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       types.Policy     `yaml:"spec"`
}

// ResourceMetadata names a policy document
type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// LoadPolicyFile reads every policy document in filename
func LoadPolicyFile(filename string) ([]types.Policy, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	policies, err := ParsePolicies(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return policies, nil
}

// ParsePolicies decodes a multi-document YAML stream of RolloutPolicy
// resources. The lineage defaults to the resource name.
func ParsePolicies(data []byte) ([]types.Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var policies []types.Policy
	for i := 0; ; i++ {
		var res PolicyResource
		err := dec.Decode(&res)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML document %d: %w", i, err)
		}
		if res.Kind == "" && res.Metadata.Name == "" {
			// empty document between separators
			continue
		}
		if res.Kind != PolicyKind {
			return nil, fmt.Errorf("unsupported resource kind: %s", res.Kind)
		}

		p := res.Spec
		if p.Lineage == "" {
			p.Lineage = res.Metadata.Name
		}
		if p.Lineage == "" {
			return nil, fmt.Errorf("document %d: metadata.name or spec.lineage is required", i)
		}
		policies = append(policies, p)
	}

	if len(policies) == 0 {
		return nil, fmt.Errorf("no %s documents found", PolicyKind)
	}
	return policies, nil
}
