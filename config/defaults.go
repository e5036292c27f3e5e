package config

// Defaults is the table of built-in fallback values consulted when an
// optional setting is missing from the configuration file. Production
// code uses Default(); tests inject their own table.
type Defaults struct {
	// ConfigPath is the configuration file location used when the
	// KEYLIME_CONFIG environment variable is unset or empty.
	ConfigPath string

	// WorkDir is the agent working directory holding the identity
	// record, derived CA material, and unpacked payloads.
	WorkDir string

	// CAPath is the CA certificate location, relative to WorkDir, used
	// when keylime_ca is configured as the sentinel "default".
	CAPath string

	// RevocationActions is the built-in revocation action script list.
	RevocationActions string

	// RevocationActionsDir is where revocation action scripts live.
	RevocationActionsDir string

	// AllowPayloadRevocationActions permits payload-supplied revocation
	// actions when the setting is absent.
	AllowPayloadRevocationActions bool

	// MTLSEnabled is assumed when mtls_cert_enabled is absent.
	MTLSEnabled bool

	// EnableInsecurePayload is assumed when enable_insecure_payload is
	// absent.
	EnableInsecurePayload bool

	// IMAMeasurementListPath is the kernel IMA runtime measurement list.
	IMAMeasurementListPath string

	// MeasuredBootLogPath is the binary measured-boot event log.
	MeasuredBootLogPath string
}

// Default returns the production defaults table.
func Default() Defaults {
	return Defaults{
		ConfigPath:                    "/etc/keylime.conf",
		WorkDir:                       "/var/lib/keylime",
		CAPath:                        "cv_ca/cacert.crt",
		RevocationActions:             "",
		RevocationActionsDir:          "/usr/libexec/keylime",
		AllowPayloadRevocationActions: true,
		MTLSEnabled:                   true,
		EnableInsecurePayload:         false,
		IMAMeasurementListPath:        "/sys/kernel/security/ima/ascii_runtime_measurements",
		MeasuredBootLogPath:           "/sys/kernel/security/tpm0/binary_bios_measurements",
	}
}
