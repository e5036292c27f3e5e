package config

import (
	"log/slog"

	"github.com/google/uuid"
)

// UUID seed values with special meaning: the agent identity is resolved
// later by an external collaborator instead of being fixed here.
const (
	// UUIDOpenstack defers identity to the OpenStack metadata service.
	UUIDOpenstack = "openstack"
	// UUIDHashEK derives identity from the endorsement key.
	UUIDHashEK = "hash_ek"
	// UUIDGenerate requests a freshly generated identity.
	UUIDGenerate = "generate"
)

// ResolveUUID turns the configured agent_uuid seed into the agent
// identifier. It never fails: a malformed seed is logged and replaced by
// a freshly generated v4 UUID so a bad value cannot abort startup.
// Parseable UUIDs are returned in canonical lowercase form.
func ResolveUUID(log *slog.Logger, seed string) string {
	switch seed {
	case UUIDOpenstack:
		log.Info("Agent UUID will be provided by the OpenStack metadata service")
		return UUIDOpenstack
	case UUIDHashEK:
		log.Info("Agent UUID will be derived from the endorsement key")
		return UUIDHashEK
	case UUIDGenerate:
		id := uuid.New()
		log.Info("Generated new agent UUID", "uuid", id.String())
		return id.String()
	default:
		id, err := uuid.Parse(seed)
		if err != nil {
			fresh := uuid.New()
			log.Warn("Configured agent UUID is malformed, replacing it with a generated one",
				"configured", seed, "uuid", fresh.String())
			return fresh.String()
		}
		return id.String()
	}
}
