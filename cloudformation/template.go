// Package cloudformation renders table definitions and framework
// resources into deployable CloudFormation templates.
package cloudformation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Template is a CloudFormation template document.
type Template struct {
	AWSTemplateFormatVersion string              `json:"AWSTemplateFormatVersion"`
	Description              string              `json:"Description,omitempty"`
	Resources                map[string]Resource `json:"Resources"`
}

// Resource is one template resource entry.
type Resource struct {
	Type       string         `json:"Type"`
	Properties map[string]any `json:"Properties"`
	DependsOn  []string       `json:"DependsOn,omitempty"`
}

// NewTemplate builds an empty template.
func NewTemplate(description string) *Template {
	return &Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Description:              description,
		Resources:                map[string]Resource{},
	}
}

// Add registers a resource under logicalID. Duplicate ids are rejected.
func (t *Template) Add(logicalID string, res Resource) error {
	if _, exists := t.Resources[logicalID]; exists {
		return fmt.Errorf("cloudformation: duplicate logical id %q", logicalID)
	}
	t.Resources[logicalID] = res
	return nil
}

// JSON renders the template as indented JSON.
func (t *Template) JSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Ref builds a Ref intrinsic.
func Ref(logicalID string) map[string]any {
	return map[string]any{"Ref": logicalID}
}

// GetAtt builds an Fn::GetAtt intrinsic.
func GetAtt(logicalID, attribute string) map[string]any {
	return map[string]any{"Fn::GetAtt": []string{logicalID, attribute}}
}

// LogicalID converts a resource name like "event_bus_subscriptions" into
// a CloudFormation friendly identifier.
func LogicalID(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.' || r == '/':
			upper = true
		case upper:
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
