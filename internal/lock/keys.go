package lock

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyPrefix namespaces every lease key so operators can find them with
// SCAN lock:* and evict stuck ones.
const KeyPrefix = "lock:"

// Resource types used by checkout.
const (
	ResourceOrderCreate  = "order:create"
	ResourceProductStock = "product:stock"
)

// Key builds a lease key of the form lock:<resource-type>:<resource-id>.
func Key(resourceType, resourceID string) string {
	return KeyPrefix + resourceType + ":" + resourceID
}

// OrderCreateKey returns the key serializing order creation for a customer.
func OrderCreateKey(customerID int64) string {
	return Key(ResourceOrderCreate, strconv.FormatInt(customerID, 10))
}

// ProductStockKey returns the key serializing stock mutation for a product.
func ProductStockKey(productID int64) string {
	return Key(ResourceProductStock, strconv.FormatInt(productID, 10))
}

// ValidateKey checks that key lives in the lock namespace.
func ValidateKey(key string) error {
	if !strings.HasPrefix(key, KeyPrefix) || len(key) == len(KeyPrefix) {
		return fmt.Errorf("key %q is not a lock key", key)
	}
	return nil
}
