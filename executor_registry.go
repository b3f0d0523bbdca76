package relpipe

import "fmt"

var (
	executorRegistry = make(map[string]ExecutorFactory)
)

// RegisterExecutor registers an executor factory with a unique ID.
// This function should be called at application startup for all executors
// that steps may reference via their Uses field.
// It will panic if an executor with the same ID is already registered.
func RegisterExecutor(id string, factory ExecutorFactory) {
	if _, exists := executorRegistry[id]; exists {
		panic(fmt.Sprintf("executor with id '%s' is already registered", id))
	}
	executorRegistry[id] = factory
}

// NewExecutorFromRegistry creates a new Executor instance from the registry
// using its ID. It returns an error if the executor ID is not found.
func NewExecutorFromRegistry(id string) (Executor, error) {
	factory, ok := executorRegistry[id]
	if !ok {
		return nil, fmt.Errorf("executor with id '%s' not found in registry", id)
	}
	return factory(), nil
}
