package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSharedFiles(t *testing.T, creds, config string) {
	t.Helper()
	dir := t.TempDir()

	credsPath := filepath.Join(dir, "credentials")
	if creds != "" {
		require.NoError(t, os.WriteFile(credsPath, []byte(creds), 0o600))
	}
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", credsPath)

	configPath := filepath.Join(dir, "config")
	if config != "" {
		require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))
	}
	t.Setenv("AWS_CONFIG_FILE", configPath)
}

func TestProfilesMergesSharedFiles(t *testing.T) {
	setSharedFiles(t,
		"[prod]\naws_access_key_id = x\n[staging]\naws_access_key_id = y\n",
		"[profile dev]\nregion = eu-west-1\n[profile prod]\nregion = us-east-1\n")

	profiles, anyFile, err := Profiles()
	require.NoError(t, err)
	assert.True(t, anyFile)
	assert.Equal(t, []string{"dev", "prod", "staging"}, profiles)
}

func TestProfilesWithoutSharedFiles(t *testing.T) {
	setSharedFiles(t, "", "")

	profiles, anyFile, err := Profiles()
	require.NoError(t, err)
	assert.False(t, anyFile)
	assert.Empty(t, profiles)
}

func TestValidateProfile(t *testing.T) {
	setSharedFiles(t, "[prod]\naws_access_key_id = x\n", "")

	assert.NoError(t, ValidateProfile("prod"))
	assert.NoError(t, ValidateProfile(""))

	err := ValidateProfile("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope" not found`)
	assert.Contains(t, err.Error(), "prod")
}

func TestValidateProfileWithoutSharedFiles(t *testing.T) {
	setSharedFiles(t, "", "")

	// No shared files: the SDK resolves credentials elsewhere, so any
	// configured profile passes.
	assert.NoError(t, ValidateProfile("whatever"))
}
