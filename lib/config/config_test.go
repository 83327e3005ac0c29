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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/skyware-js/labeler/lib/defaults"
)

const sampleConfig = `
did: did:plc:ab2cdefghijklmnopqrstuvw
signing_key: "1111111111111111111111111111111111111111111111111111111111111111"
listen_addr: 127.0.0.1:8080
diag_addr: 127.0.0.1:3000
db_path: /var/lib/labeler/labels.db
debug: true
`

func TestRead(t *testing.T) {
	fc, err := Read([]byte(sampleConfig))
	require.NoError(t, err)
	require.Equal(t, "did:plc:ab2cdefghijklmnopqrstuvw", fc.DID)
	require.Equal(t, "127.0.0.1:8080", fc.ListenAddr)
	require.Equal(t, "127.0.0.1:3000", fc.DiagAddr)
	require.Equal(t, "/var/lib/labeler/labels.db", fc.DatabasePath)
	require.Equal(t, defaults.PLCDirectoryURL, fc.PLCDirectoryURL)
	require.True(t, fc.Debug)
}

func TestReadDefaults(t *testing.T) {
	fc, err := Read([]byte("did: did:web:labeler.example.com\nsigning_key: abc123\n" +
		"signing_key: " + strings.Repeat("11", 32) + "\n"))
	require.Error(t, err) // duplicate key is a parse error

	fc, err = Read([]byte("did: did:web:labeler.example.com\nsigning_key: " + strings.Repeat("11", 32) + "\n"))
	require.NoError(t, err)
	require.Equal(t, defaults.HTTPListenAddr, fc.ListenAddr)
	require.Equal(t, defaults.DatabasePath, fc.DatabasePath)
	require.Empty(t, fc.DiagAddr)
	require.False(t, fc.Debug)
}

func TestReadValidation(t *testing.T) {
	for name, data := range map[string]string{
		"missing did":    "signing_key: abc\n",
		"bad did method": "did: did:key:zQ3sh\nsigning_key: abc\n",
		"missing key":    "did: did:plc:ab2cdefghijklmnopqrstuvw\n",
		"unknown field":  "did: did:plc:ab2cdefghijklmnopqrstuvw\nsigning_key: abc\nlisten_adr: oops\n",
	} {
		_, err := Read([]byte(data))
		require.Error(t, err, name)
		require.True(t, trace.IsBadParameter(err), "%s: %v", name, err)
	}
}

func TestSigningKeyEnvOverride(t *testing.T) {
	t.Setenv(SigningKeyEnvVar, strings.Repeat("22", 32))

	fc, err := Read([]byte("did: did:plc:ab2cdefghijklmnopqrstuvw\n"))
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("22", 32), fc.SigningKey)

	fc, err = Read([]byte("did: did:plc:ab2cdefghijklmnopqrstuvw\nsigning_key: " + strings.Repeat("11", 32) + "\n"))
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("22", 32), fc.SigningKey, "environment wins over the file")
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labeler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	fc, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "did:plc:ab2cdefghijklmnopqrstuvw", fc.DID)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, trace.IsNotFound(err), "got %v", err)
}
