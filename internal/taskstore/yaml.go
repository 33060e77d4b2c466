package taskstore

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

func unmarshalFrontMatter(block string, fm *frontMatter) error {
	if err := yaml.Unmarshal([]byte(block), fm); err != nil {
		return fmt.Errorf("invalid YAML front matter: %w", err)
	}
	if fm.Version == 0 {
		fm.Version = 1
	}
	return nil
}

func marshalFrontMatter(fm *frontMatter) (string, error) {
	out, err := yaml.Marshal(fm)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
