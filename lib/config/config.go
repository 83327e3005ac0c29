/*
 * Labeler
 * Copyright (C) 2026  Skyware
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package config loads the labeler's YAML configuration file.
package config

import (
	"os"
	"strings"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/skyware-js/labeler/lib/defaults"
)

// SigningKeyEnvVar overrides the signing_key setting, so the key
// material can be kept out of the config file.
const SigningKeyEnvVar = "LABELER_SIGNING_KEY"

// FileConfig is the on-disk configuration of the labeler service.
type FileConfig struct {
	// ListenAddr is the address the XRPC frontend binds to.
	ListenAddr string `yaml:"listen_addr"`
	// DiagAddr optionally enables the diagnostics listener serving
	// Prometheus metrics. Empty disables it.
	DiagAddr string `yaml:"diag_addr"`
	// DID is the labeler's own DID.
	DID string `yaml:"did"`
	// SigningKey is the hex or base64 encoded secp256k1 private key
	// used to sign labels. The LABELER_SIGNING_KEY environment
	// variable takes precedence.
	SigningKey string `yaml:"signing_key"`
	// DatabasePath is the sqlite database file.
	DatabasePath string `yaml:"db_path"`
	// PLCDirectoryURL overrides the PLC directory used for DID
	// resolution.
	PLCDirectoryURL string `yaml:"plc_directory_url"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
}

// ReadFile loads and validates a config file.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return Read(data)
}

// Read parses and validates YAML config data.
func Read(data []byte) (*FileConfig, error) {
	var fc FileConfig
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return nil, trace.BadParameter("failed to parse config: %v", err)
	}
	if err := fc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &fc, nil
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (fc *FileConfig) CheckAndSetDefaults() error {
	if key := os.Getenv(SigningKeyEnvVar); key != "" {
		fc.SigningKey = key
	}
	if fc.DID == "" {
		return trace.BadParameter("config is missing did")
	}
	if !strings.HasPrefix(fc.DID, "did:plc:") && !strings.HasPrefix(fc.DID, "did:web:") {
		return trace.BadParameter("did %q must use the plc or web method", fc.DID)
	}
	if fc.SigningKey == "" {
		return trace.BadParameter("config is missing signing_key (or set %s)", SigningKeyEnvVar)
	}
	if fc.ListenAddr == "" {
		fc.ListenAddr = defaults.HTTPListenAddr
	}
	if fc.DatabasePath == "" {
		fc.DatabasePath = defaults.DatabasePath
	}
	if fc.PLCDirectoryURL == "" {
		fc.PLCDirectoryURL = defaults.PLCDirectoryURL
	}
	return nil
}
