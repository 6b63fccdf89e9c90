package engine

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DatasourceConfig is the declarative datasource document handed to the engine.
type DatasourceConfig struct {
	Name     string
	Document map[string]any
}

// YAML renders the document with the datasource name at the top level.
func (c DatasourceConfig) YAML() ([]byte, error) {
	doc := make(map[string]any, len(c.Document)+1)
	for k, v := range c.Document {
		doc[k] = v
	}
	doc["name"] = c.Name
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render datasource %q: %w", c.Name, err)
	}
	return out, nil
}

// BatchRequest selects the data a validator runs against.
type BatchRequest struct {
	DatasourceName    string `json:"datasource_name"`
	DataConnectorName string `json:"data_connector_name"`
	DataAssetName     string `json:"data_asset_name"`
	Limit             int    `json:"limit,omitempty"`
}

// SuiteInfo reports whether EnsureSuite created a suite or loaded an existing one.
type SuiteInfo struct {
	Name             string `json:"suite_name"`
	Created          bool   `json:"created"`
	ExpectationCount int    `json:"expectation_count"`
}

type CheckpointRequest struct {
	Name         string
	SuiteName    string
	BatchRequest BatchRequest
}
