// Copyright 2025 ProcureSense
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"fmt"
	"sync"
)

// ProviderFactory creates a Provider instance from configuration.
// Factories should validate the config and return an error if invalid.
type ProviderFactory func(config ProviderConfig) (Provider, error)

// factoryRegistry holds registered provider factories.
// Thread-safe for concurrent access.
type factoryRegistry struct {
	factories map[ProviderType]ProviderFactory
	mu        sync.RWMutex
}

// globalRegistry is the default factory registry.
var globalRegistry = &factoryRegistry{
	factories: make(map[ProviderType]ProviderFactory),
}

// RegisterFactory registers a factory function for a provider type.
// This is typically called during package init() to register built-in
// providers. If a factory is already registered for the type, it is replaced.
//
// Example:
//
//	func init() {
//	    llm.RegisterFactory(llm.ProviderTypeOllama, NewProvider)
//	}
func RegisterFactory(providerType ProviderType, factory ProviderFactory) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.factories[providerType] = factory
}

// GetFactory returns the factory for a provider type, or nil if not registered.
func GetFactory(providerType ProviderType) ProviderFactory {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	return globalRegistry.factories[providerType]
}

// HasFactory returns true if a factory is registered for the provider type.
func HasFactory(providerType ProviderType) bool {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	_, ok := globalRegistry.factories[providerType]
	return ok
}

// ListFactories returns all registered provider types.
func ListFactories() []ProviderType {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	types := make([]ProviderType, 0, len(globalRegistry.factories))
	for t := range globalRegistry.factories {
		types = append(types, t)
	}
	return types
}

// CreateProvider creates a provider instance using the registered factory.
func CreateProvider(config ProviderConfig) (Provider, error) {
	factory := GetFactory(config.Type)
	if factory == nil {
		return nil, fmt.Errorf("no factory registered for provider type %q", config.Type)
	}
	return factory(config)
}
