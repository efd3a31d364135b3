/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package credentials

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/p2pconf/internal/model"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type defaultsFile struct {
	STUNServers []struct {
		URLs []string `yaml:"urls"`
	} `yaml:"stunServers"`
	MQTTBrokers []struct {
		URL string `yaml:"url"`
	} `yaml:"mqttBrokers"`
}

func loadEmbeddedDefaults() (model.SessionCredentials, error) {
	var raw defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &raw); err != nil {
		return model.SessionCredentials{}, fmt.Errorf("unmarshal embedded defaults: %w", err)
	}

	creds := model.SessionCredentials{Source: "built-in-defaults"}
	for _, s := range raw.STUNServers {
		creds.ICEServers = append(creds.ICEServers, model.ICEServer{URLs: s.URLs})
	}
	for _, b := range raw.MQTTBrokers {
		creds.MQTTBrokers = append(creds.MQTTBrokers, model.BrokerCredential{URL: b.URL})
	}
	return creds, nil
}
