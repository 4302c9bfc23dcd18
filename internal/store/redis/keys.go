package redis

import (
	"fmt"
	"strconv"
)

const (
	// KeyPrefixResource is the prefix for resource entry hashes
	KeyPrefixResource = "tinyman:resource:"
	// KeyAllResources is the key for the set of all mirrored resource ids
	KeyAllResources = "tinyman:resources:all"
)

// ResourceKey returns the Redis key for a resource entry by id
func ResourceKey(id int) string {
	return KeyPrefixResource + strconv.Itoa(id)
}

// AllResourcesKey returns the key for the set of all resource ids
func AllResourcesKey() string {
	return KeyAllResources
}

// ExtractResourceID extracts the resource id from a Redis key
func ExtractResourceID(key string) (int, error) {
	if len(key) <= len(KeyPrefixResource) || key[:len(KeyPrefixResource)] != KeyPrefixResource {
		return 0, fmt.Errorf("invalid resource key: %s", key)
	}
	id, err := strconv.Atoi(key[len(KeyPrefixResource):])
	if err != nil {
		return 0, fmt.Errorf("invalid resource key: %s: %w", key, err)
	}
	return id, nil
}
