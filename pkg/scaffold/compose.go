// Package scaffold generates deployment files for services: entries in a
// docker-compose.yml and nginx gateway configuration.
package scaffold

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrServiceExists is returned when a compose file already defines a service.
var ErrServiceExists = errors.New("service already defined")

// Service is one docker-compose service definition.
type Service struct {
	Name        string            `yaml:"-"`
	Image       string            `yaml:"image"`
	Ports       []string          `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Restart     string            `yaml:"restart,omitempty"`
}

func (s Service) validate() error {
	if s.Name == "" {
		return errors.New("service name is required")
	}
	if s.Image == "" {
		return fmt.Errorf("service %s: image is required", s.Name)
	}
	return nil
}

// AddService appends svc to the compose document in data and returns the
// new document. Existing content, including comments and key order, is kept.
// Empty data starts a new document.
func AddService(data []byte, svc Service) ([]byte, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse compose file: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("compose file is not a mapping")
	}

	services := mappingValue(root, "services")
	if services == nil {
		services = &yaml.Node{Kind: yaml.MappingNode}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "services"},
			services,
		)
	}
	if services.Kind == yaml.ScalarNode && services.Tag == "!!null" {
		*services = yaml.Node{Kind: yaml.MappingNode}
	}
	if services.Kind != yaml.MappingNode {
		return nil, errors.New("compose services is not a mapping")
	}
	if mappingValue(services, svc.Name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceExists, svc.Name)
	}

	var value yaml.Node
	if err := value.Encode(svc); err != nil {
		return nil, fmt.Errorf("failed to encode service %s: %w", svc.Name, err)
	}
	services.Content = append(services.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: svc.Name},
		&value,
	)

	var out bytes.Buffer
	enc := yaml.NewEncoder(&out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode compose file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// AddServiceToFile adds svc to the compose file at path, creating the file
// if it does not exist.
func AddServiceToFile(path string, svc Service) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	updated, err := AddService(data, svc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, updated, 0o644)
}

// ServiceNames lists the services defined in a compose document, in file
// order.
func ServiceNames(data []byte) ([]string, error) {
	var doc struct {
		Services yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse compose file: %w", err)
	}

	var names []string
	for i := 0; i+1 < len(doc.Services.Content); i += 2 {
		names = append(names, doc.Services.Content[i].Value)
	}
	return names, nil
}

func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
