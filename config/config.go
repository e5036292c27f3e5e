package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/galmasi/keylime-agent/algorithms"
	"github.com/galmasi/keylime-agent/identity"
)

// AgentConfig is the immutable configuration snapshot built once at
// process start. Nothing mutates it after Build returns; any change
// requires rebuilding.
type AgentConfig struct {
	// AgentIP and AgentPort are the address the agent listens on.
	AgentIP   string
	AgentPort string

	// RegistrarIP and RegistrarPort locate the registrar the agent
	// registers with.
	RegistrarIP   string
	RegistrarPort string

	// AgentUUID is the canonical agent identifier, or one of the
	// deferred-resolution tags "openstack" and "hash_ek".
	AgentUUID string

	// ContactIP and ContactPort are the externally advertised contact
	// address, when configured. Empty/zero when unset.
	ContactIP   string
	ContactPort uint32

	// Negotiated TPM algorithm choices.
	HashAlg algorithms.HashAlgorithm
	EncAlg  algorithms.EncryptionAlgorithm
	SignAlg algorithms.SignAlgorithm

	// Identity is the persisted attestation key identity, nil when no
	// usable record exists yet. IdentityPath is where the record lives.
	Identity     *identity.Record
	IdentityPath string

	// RunRevocation enables the revocation notification listener.
	RunRevocation bool

	// RevocationCert is the certificate revocation notifications are
	// verified against.
	RevocationCert string

	// RevocationIP and RevocationPort are the revocation listener
	// address.
	RevocationIP   string
	RevocationPort string

	// SecureSize is the size budget of the secure payload mount.
	SecureSize string

	// PayloadScript is the script executed after payload extraction.
	PayloadScript string

	// DecPayloadFilename is the file name for the decrypted payload.
	DecPayloadFilename string

	// KeyFilename is the file name for the delivered payload key.
	KeyFilename string

	// ExtractPayloadZip unpacks the decrypted payload as an archive.
	ExtractPayloadZip bool

	// CAPath is the CA certificate used for revocation verification.
	CAPath string

	// RevocationActions is the configured revocation action script list.
	RevocationActions string

	// RevocationActionsDir is where revocation action scripts live.
	RevocationActionsDir string

	// AllowPayloadRevocationActions permits payload-supplied revocation
	// actions.
	AllowPayloadRevocationActions bool

	// WorkDir is the agent working directory.
	WorkDir string

	// MTLSEnabled enables mutual TLS on the agent API.
	MTLSEnabled bool

	// EnableInsecurePayload tolerates payload delivery without mTLS.
	EnableInsecurePayload bool

	// RunAs is the user:group to drop privileges to, empty when the
	// agent is not elevated or no drop target is configured.
	RunAs string

	// IMAMeasurementListPath and MeasuredBootLogPath are the measurement
	// log locations the quote handlers read.
	IMAMeasurementListPath string
	MeasuredBootLogPath    string
}

// Builder assembles an AgentConfig. Zero-value fields fall back to
// production wiring, so `(&Builder{Log: log}).Build()` is the normal
// startup call; tests inject their own defaults table, resolver, and
// elevation predicate.
type Builder struct {
	// Log receives resolution warnings. Defaults to slog.Default().
	Log *slog.Logger

	// Defaults is the fallback table for optional settings. Defaults to
	// Default().
	Defaults *Defaults

	// Resolver performs the individual setting lookups. Defaults to a
	// resolver over ConfigFilePath(defaults).
	Resolver *Resolver

	// IsElevated reports whether the process runs with elevated
	// privileges; run_as is only consulted when it returns true.
	// Defaults to an effective-UID-zero check.
	IsElevated func() bool
}

// Build runs the fixed resolution sequence and returns the snapshot.
// Required settings propagate any lookup failure; optional settings
// substitute their default when absent but still fail on malformed
// values.
func (b *Builder) Build() (*AgentConfig, error) {
	log := b.Log
	if log == nil {
		log = slog.Default()
	}
	defaults := b.Defaults
	if defaults == nil {
		d := Default()
		defaults = &d
	}
	resolver := b.Resolver
	if resolver == nil {
		resolver = NewResolver(ConfigFilePath(*defaults))
	}
	isElevated := b.IsElevated
	if isElevated == nil {
		isElevated = func() bool { return os.Geteuid() == 0 }
	}

	agentIP, err := resolver.ResolveEnv("cloud_agent", "cloudagent_ip", "CLOUDAGENT_IP")
	if err != nil {
		return nil, err
	}
	agentPort, err := resolver.ResolveEnv("cloud_agent", "cloudagent_port", "CLOUDAGENT_PORT")
	if err != nil {
		return nil, err
	}
	registrarIP, err := resolver.ResolveEnv("cloud_agent", "registrar_ip", "REGISTRAR_IP")
	if err != nil {
		return nil, err
	}
	registrarPort, err := resolver.ResolveEnv("cloud_agent", "registrar_port", "REGISTRAR_PORT")
	if err != nil {
		return nil, err
	}

	uuidSeed, err := resolver.Resolve("cloud_agent", "agent_uuid")
	if err != nil {
		return nil, err
	}
	agentUUID := ResolveUUID(log, uuidSeed)

	contactIP, err := resolver.ResolveEnv("cloud_agent", "agent_contact_ip", "KEYLIME_AGENT_CONTACT_IP")
	if err != nil {
		// Optional, agents behind NAT simply do not advertise one.
		contactIP = ""
	}
	var contactPort uint32
	if portStr, err := resolver.ResolveEnv("cloud_agent", "agent_contact_port", "KEYLIME_AGENT_CONTACT_PORT"); err == nil {
		port, err := strconv.ParseUint(portStr, 10, 32)
		if err != nil {
			return nil, &ParseError{Section: "cloud_agent", Key: "agent_contact_port", Value: portStr, Want: "a port number"}
		}
		contactPort = uint32(port)
	}

	hashAlg, err := resolveAlgorithm(resolver, "tpm_hash_alg", algorithms.ParseHashAlgorithm)
	if err != nil {
		return nil, err
	}
	encAlg, err := resolveAlgorithm(resolver, "tpm_encryption_alg", algorithms.ParseEncryptionAlgorithm)
	if err != nil {
		return nil, err
	}
	signAlg, err := resolveAlgorithm(resolver, "tpm_signing_alg", algorithms.ParseSignAlgorithm)
	if err != nil {
		return nil, err
	}

	// Older deployed configuration files carry a misspelled key for the
	// revocation listener toggle; accept it when the current spelling is
	// absent.
	notificationsStr, err := resolver.Resolve("cloud_agent", "listen_notifications")
	if err != nil {
		notificationsStr, err = resolver.Resolve("cloud_agent", "listen_notfications")
		if err != nil {
			return nil, err
		}
	}
	runRevocation, err := parseConfigBool("cloud_agent", "listen_notifications", notificationsStr)
	if err != nil {
		return nil, err
	}

	revocationCert, err := resolver.Resolve("cloud_agent", "revocation_cert")
	if err != nil {
		return nil, err
	}
	revocationIP, err := resolver.Resolve("general", "receive_revocation_ip")
	if err != nil {
		return nil, err
	}
	revocationPort, err := resolver.Resolve("general", "receive_revocation_port")
	if err != nil {
		return nil, err
	}

	secureSize, err := resolver.Resolve("cloud_agent", "secure_size")
	if err != nil {
		return nil, err
	}
	payloadScript, err := resolver.Resolve("cloud_agent", "payload_script")
	if err != nil {
		return nil, err
	}
	decPayloadFilename, err := resolver.Resolve("cloud_agent", "dec_payload_file")
	if err != nil {
		return nil, err
	}
	keyFilename, err := resolver.Resolve("cloud_agent", "enc_keyname")
	if err != nil {
		return nil, err
	}
	extractStr, err := resolver.Resolve("cloud_agent", "extract_payload_zip")
	if err != nil {
		return nil, err
	}
	extractPayloadZip, err := parseConfigBool("cloud_agent", "extract_payload_zip", extractStr)
	if err != nil {
		return nil, err
	}

	workDir, err := resolver.ResolveEnv("cloud_agent", "keylime_dir", "KEYLIME_DIR")
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		workDir = defaults.WorkDir
	}

	identityPath := filepath.Join(workDir, identity.FileName)
	record, err := identity.Load(identityPath)
	if err != nil {
		if errors.Is(err, identity.ErrAbsent) {
			log.Debug("No persisted identity record yet", "path", identityPath)
		} else {
			log.Warn("Could not load identity record, the attestation key will be regenerated",
				"path", identityPath, "err", err)
		}
		record = nil
	}

	caPath, err := resolver.Resolve("cloud_agent", "keylime_ca")
	if err != nil {
		return nil, err
	}
	if caPath == "default" {
		caPath = filepath.Join(workDir, defaults.CAPath)
	}

	revocationActions, err := resolver.Resolve("cloud_agent", "revocation_actions")
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		revocationActions = defaults.RevocationActions
	}
	revocationActionsDir, err := resolver.Resolve("cloud_agent", "revocation_actions_dir")
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		revocationActionsDir = defaults.RevocationActionsDir
	}

	allowPayloadRevocationActions, err := resolveOptionalBool(resolver,
		"cloud_agent", "allow_payload_revocation_actions", defaults.AllowPayloadRevocationActions)
	if err != nil {
		return nil, err
	}

	var runAs string
	if isElevated() {
		runAs, err = resolver.Resolve("cloud_agent", "run_as")
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			log.Warn("Cannot drop privileges: run_as is missing from the [cloud_agent] section, the agent keeps running elevated",
				"file", resolver.File())
			runAs = ""
		}
	}

	mtlsEnabled, err := resolveOptionalBool(resolver,
		"cloud_agent", "mtls_cert_enabled", defaults.MTLSEnabled)
	if err != nil {
		return nil, err
	}
	enableInsecurePayload, err := resolveOptionalBool(resolver,
		"cloud_agent", "enable_insecure_payload", defaults.EnableInsecurePayload)
	if err != nil {
		return nil, err
	}

	return &AgentConfig{
		AgentIP:                       agentIP,
		AgentPort:                     agentPort,
		RegistrarIP:                   registrarIP,
		RegistrarPort:                 registrarPort,
		AgentUUID:                     agentUUID,
		ContactIP:                     contactIP,
		ContactPort:                   contactPort,
		HashAlg:                       hashAlg,
		EncAlg:                        encAlg,
		SignAlg:                       signAlg,
		Identity:                      record,
		IdentityPath:                  identityPath,
		RunRevocation:                 runRevocation,
		RevocationCert:                revocationCert,
		RevocationIP:                  revocationIP,
		RevocationPort:                revocationPort,
		SecureSize:                    secureSize,
		PayloadScript:                 payloadScript,
		DecPayloadFilename:            decPayloadFilename,
		KeyFilename:                   keyFilename,
		ExtractPayloadZip:             extractPayloadZip,
		CAPath:                        caPath,
		RevocationActions:             revocationActions,
		RevocationActionsDir:          revocationActionsDir,
		AllowPayloadRevocationActions: allowPayloadRevocationActions,
		WorkDir:                       workDir,
		MTLSEnabled:                   mtlsEnabled,
		EnableInsecurePayload:         enableInsecurePayload,
		RunAs:                         runAs,
		IMAMeasurementListPath:        defaults.IMAMeasurementListPath,
		MeasuredBootLogPath:           defaults.MeasuredBootLogPath,
	}, nil
}

// resolveAlgorithm looks up a required algorithm tag from the
// cloud_agent section and validates it.
func resolveAlgorithm[T ~string](resolver *Resolver, key string, parse func(string) (T, error)) (T, error) {
	var zero T
	value, err := resolver.Resolve("cloud_agent", key)
	if err != nil {
		return zero, err
	}
	alg, err := parse(value)
	if err != nil {
		return zero, &ParseError{Section: "cloud_agent", Key: key, Value: value, Want: "a supported algorithm"}
	}
	return alg, nil
}

// resolveOptionalBool substitutes the default when the key is absent but
// still fails on values that do not parse as booleans.
func resolveOptionalBool(resolver *Resolver, section, key string, fallback bool) (bool, error) {
	value, err := resolver.Resolve(section, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fallback, nil
		}
		return false, err
	}
	return parseConfigBool(section, key, value)
}

func parseConfigBool(section, key, value string) (bool, error) {
	parsed, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		return false, &ParseError{Section: section, Key: key, Value: value, Want: "a boolean"}
	}
	return parsed, nil
}
