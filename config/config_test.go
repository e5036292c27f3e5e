package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/galmasi/keylime-agent/algorithms"
	"github.com/galmasi/keylime-agent/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// baseConfig returns a minimal complete agent configuration with
// workDir as the keylime_dir. The [cloud_agent] section comes last so
// tests can append further agent settings to the returned string.
func baseConfig(workDir string) string {
	return fmt.Sprintf(`[general]
receive_revocation_ip = 127.0.0.1
receive_revocation_port = 8992

[cloud_agent]
cloudagent_ip = 127.0.0.1
cloudagent_port = 9002
registrar_ip = 127.0.0.1
registrar_port = 8890
agent_uuid = d432fbb3-d2f1-4a97-9ef7-75bd81c00000
tpm_hash_alg = sha256
tpm_encryption_alg = rsa
tpm_signing_alg = rsassa
listen_notifications = True
revocation_cert = RevocationNotifier-cert.crt
secure_size = 1m
payload_script = autorun.sh
dec_payload_file = decrypted_payload
enc_keyname = derived_tci_key
extract_payload_zip = True
keylime_ca = default
keylime_dir = %s
`, workDir)
}

// newBuilder neutralizes ambient override variables and returns a
// builder over the given file contents with a non-elevated process.
func newBuilder(t *testing.T, contents string) *Builder {
	t.Helper()

	for _, name := range []string{
		"CLOUDAGENT_IP", "CLOUDAGENT_PORT",
		"REGISTRAR_IP", "REGISTRAR_PORT",
		"KEYLIME_AGENT_CONTACT_IP", "KEYLIME_AGENT_CONTACT_PORT",
		"KEYLIME_DIR",
	} {
		t.Setenv(name, "")
	}

	defaults := Default()
	return &Builder{
		Log:        discardLogger(),
		Defaults:   &defaults,
		Resolver:   NewResolver(writeConfigFile(t, contents)),
		IsElevated: func() bool { return false },
	}
}

func TestBuild(t *testing.T) {
	workDir := t.TempDir()
	cfg, err := newBuilder(t, baseConfig(workDir)).Build()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.AgentIP)
	assert.Equal(t, "9002", cfg.AgentPort)
	assert.Equal(t, "127.0.0.1", cfg.RegistrarIP)
	assert.Equal(t, "8890", cfg.RegistrarPort)
	assert.Equal(t, "d432fbb3-d2f1-4a97-9ef7-75bd81c00000", cfg.AgentUUID)
	assert.Equal(t, algorithms.HashSha256, cfg.HashAlg)
	assert.Equal(t, algorithms.EncryptionRsa, cfg.EncAlg)
	assert.Equal(t, algorithms.SignRsaSsa, cfg.SignAlg)
	assert.True(t, cfg.RunRevocation)
	assert.Equal(t, "127.0.0.1", cfg.RevocationIP)
	assert.Equal(t, "8992", cfg.RevocationPort)
	assert.True(t, cfg.ExtractPayloadZip)
	assert.Equal(t, workDir, cfg.WorkDir)
	assert.Equal(t, filepath.Join(workDir, identity.FileName), cfg.IdentityPath)
	assert.Nil(t, cfg.Identity, "no identity record exists yet")
	assert.Empty(t, cfg.ContactIP)
	assert.Zero(t, cfg.ContactPort)
	assert.Empty(t, cfg.RunAs, "not elevated, run_as is never consulted")

	// Defaults substituted for absent optional settings.
	assert.Equal(t, "", cfg.RevocationActions)
	assert.Equal(t, "/usr/libexec/keylime", cfg.RevocationActionsDir)
	assert.True(t, cfg.AllowPayloadRevocationActions)
	assert.True(t, cfg.MTLSEnabled)
	assert.False(t, cfg.EnableInsecurePayload)
	assert.NotEmpty(t, cfg.IMAMeasurementListPath)
	assert.NotEmpty(t, cfg.MeasuredBootLogPath)
}

func TestBuildEnvironmentOverridesFile(t *testing.T) {
	b := newBuilder(t, baseConfig(t.TempDir()))
	t.Setenv("CLOUDAGENT_IP", "192.168.0.5")
	t.Setenv("REGISTRAR_PORT", "9999")

	cfg, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.5", cfg.AgentIP)
	assert.Equal(t, "9999", cfg.RegistrarPort)
	assert.Equal(t, "9002", cfg.AgentPort, "unset variables leave the file value")
}

func TestBuildMissingRequiredSetting(t *testing.T) {
	contents := baseConfig(t.TempDir())
	b := newBuilder(t, contents)
	b.Resolver = NewResolver(writeConfigFile(t, "[cloud_agent]\ncloudagent_ip = 127.0.0.1\n"))

	_, err := b.Build()
	require.ErrorIs(t, err, ErrNotFound)

	var missing *MissingEntryError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "cloudagent_port", missing.Key)
}

func TestBuildCAPathSentinel(t *testing.T) {
	workDir := t.TempDir()
	cfg, err := newBuilder(t, baseConfig(workDir)).Build()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "cv_ca/cacert.crt"), cfg.CAPath)

	// Any other value passes through verbatim.
	contents := replaceLine(baseConfig(workDir),
		"keylime_ca = default", "keylime_ca = /etc/keylime/ca.crt")
	cfg, err = newBuilder(t, contents).Build()
	require.NoError(t, err)
	assert.Equal(t, "/etc/keylime/ca.crt", cfg.CAPath)
}

func TestBuildDeprecatedNotificationsKey(t *testing.T) {
	contents := replaceLine(baseConfig(t.TempDir()),
		"listen_notifications = True", "listen_notfications = False")

	cfg, err := newBuilder(t, contents).Build()
	require.NoError(t, err)
	assert.False(t, cfg.RunRevocation, "the misspelled legacy key must still resolve")
}

func TestBuildMalformedRequiredBool(t *testing.T) {
	contents := replaceLine(baseConfig(t.TempDir()),
		"extract_payload_zip = True", "extract_payload_zip = maybe")

	_, err := newBuilder(t, contents).Build()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "extract_payload_zip", parseErr.Key)
	assert.Equal(t, "maybe", parseErr.Value)
}

func TestBuildMalformedOptionalBool(t *testing.T) {
	contents := baseConfig(t.TempDir()) + "mtls_cert_enabled = maybe\n"

	_, err := newBuilder(t, contents).Build()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "mtls_cert_enabled", parseErr.Key, "a malformed value must not silently become the default")
}

func TestBuildOptionalBoolPresent(t *testing.T) {
	contents := baseConfig(t.TempDir()) + "mtls_cert_enabled = False\nenable_insecure_payload = True\n"

	cfg, err := newBuilder(t, contents).Build()
	require.NoError(t, err)
	assert.False(t, cfg.MTLSEnabled)
	assert.True(t, cfg.EnableInsecurePayload)
}

func TestBuildContactAddress(t *testing.T) {
	contents := baseConfig(t.TempDir()) + "agent_contact_ip = 10.1.2.3\nagent_contact_port = 9002\n"

	cfg, err := newBuilder(t, contents).Build()
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", cfg.ContactIP)
	assert.Equal(t, uint32(9002), cfg.ContactPort)
}

func TestBuildMalformedContactPort(t *testing.T) {
	contents := baseConfig(t.TempDir()) + "agent_contact_port = not-a-port\n"

	_, err := newBuilder(t, contents).Build()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "agent_contact_port", parseErr.Key)
}

func TestBuildMalformedAlgorithm(t *testing.T) {
	contents := replaceLine(baseConfig(t.TempDir()),
		"tpm_hash_alg = sha256", "tpm_hash_alg = md5")

	_, err := newBuilder(t, contents).Build()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "tpm_hash_alg", parseErr.Key)
}

func TestBuildLoadsIdentityRecord(t *testing.T) {
	workDir := t.TempDir()
	record := &identity.Record{
		AKHashAlg: algorithms.HashSha256,
		AKSignAlg: algorithms.SignRsaSsa,
		AKContext: json.RawMessage(`{"context_blob":"AQID"}`),
	}
	require.NoError(t, record.Store(filepath.Join(workDir, identity.FileName)))

	cfg, err := newBuilder(t, baseConfig(workDir)).Build()
	require.NoError(t, err)
	require.NotNil(t, cfg.Identity)
	assert.True(t, cfg.Identity.Valid(cfg.HashAlg, cfg.SignAlg))
}

func TestBuildCorruptIdentityRecordIsTolerated(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, identity.FileName), []byte("garbage"), 0o600))

	cfg, err := newBuilder(t, baseConfig(workDir)).Build()
	require.NoError(t, err, "a corrupt record must never abort startup")
	assert.Nil(t, cfg.Identity)
}

func TestBuildRunAs(t *testing.T) {
	contents := baseConfig(t.TempDir()) + "run_as = keylime:tss\n"

	b := newBuilder(t, contents)
	b.IsElevated = func() bool { return true }
	cfg, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "keylime:tss", cfg.RunAs)

	// Elevated with no drop target: warn and continue elevated.
	b = newBuilder(t, baseConfig(t.TempDir()))
	b.IsElevated = func() bool { return true }
	cfg, err = b.Build()
	require.NoError(t, err)
	assert.Empty(t, cfg.RunAs)

	// Not elevated: the setting is ignored even when present.
	b = newBuilder(t, contents)
	cfg, err = b.Build()
	require.NoError(t, err)
	assert.Empty(t, cfg.RunAs)
}

func TestBuildWorkDirDefault(t *testing.T) {
	contents := replaceLine(baseConfig("ignored"), "keylime_dir = ignored", "")

	cfg, err := newBuilder(t, contents).Build()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/keylime", cfg.WorkDir)
}

func TestBuildWorkDirEnvOverride(t *testing.T) {
	workDir := t.TempDir()
	b := newBuilder(t, baseConfig("/somewhere/else"))
	t.Setenv("KEYLIME_DIR", workDir)

	cfg, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, workDir, cfg.WorkDir)
}

func replaceLine(contents, old, new string) string {
	return strings.Replace(contents, old, new, 1)
}
