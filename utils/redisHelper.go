package utils

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/commercekit/searchsync/config"
)

// GetShortCacheLifespan is the TTL for ledger lookup caching. Kept short so
// admin edits made outside the sync path surface quickly.
func GetShortCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("SHORT_CACHE_LIFESPAN_SECONDS"))
	if err != nil || lifespan <= 0 {
		lifespan = 300
	}
	return time.Duration(lifespan) * time.Second
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// StoreRedisKeyed caches obj under "<Type>:<key>" with the short lifespan.
func StoreRedisKeyed[T any](obj any, key string) error {
	redisKey := GetTypeName[T]() + ":" + key
	return config.SetRedisObject(redisKey, &obj, GetShortCacheLifespan())
}

// RetrieveRedisKeyed returns nil when the key does not exist.
func RetrieveRedisKeyed[T any](key string) (*T, error) {
	var result *T
	redisKey := GetTypeName[T]() + ":" + key
	exists, err := config.GetRedisObject(redisKey, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// RemoveRedisKeyed removes "<Type>:<key>".
func RemoveRedisKeyed[T any](keys ...string) error {
	typeName := GetTypeName[T]()
	redisKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		redisKeys = append(redisKeys, typeName+":"+key)
	}
	if len(redisKeys) == 0 {
		return nil
	}
	return config.RemoveRedisKey(redisKeys...)
}

// CompositeKey builds the cache key for an (entityName, entityId) pair.
// Entity names compare case-insensitively, so the key is lower-cased.
func CompositeKey(entityName string, entityId int) string {
	return strings.ToLower(strings.TrimSpace(entityName)) + ":" + fmt.Sprint(entityId)
}
