package container

import (
	"github.com/rune-org/rtes/cmd/rtes/state"
	"github.com/rune-org/rtes/common/bootstrap"
	"github.com/rune-org/rtes/common/bus"
	"github.com/rune-org/rtes/common/executionstore"
	"github.com/rune-org/rtes/common/tokenstore"
)

// Container holds the initialized stores and the shared app state
// (singleton pattern)
type Container struct {
	Components *bootstrap.Components
	Tokens     *tokenstore.Store
	Executions *executionstore.Store
	Bus        *bus.Bus
	State      *state.AppState
}

// NewContainer initializes all stores once and assembles the app state
func NewContainer(components *bootstrap.Components) (*Container, error) {
	tokens := tokenstore.New(components.Redis, components.Logger)
	executions := executionstore.New(components.Mongo, components.Config.Mongo.Database, components.Logger)
	eventBus := bus.New()

	appState := &state.AppState{
		Config:     components.Config,
		Log:        components.Logger,
		Tokens:     tokens,
		Executions: executions,
		Bus:        eventBus,
	}

	return &Container{
		Components: components,
		Tokens:     tokens,
		Executions: executions,
		Bus:        eventBus,
		State:      appState,
	}, nil
}
