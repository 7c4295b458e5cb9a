package engine

import (
	"github.com/asynkron/protoactor-go/actor"

	"marshtalk/internal/database"
	"marshtalk/internal/utils"
)

// Engine owns the maintenance actor's lifecycle.
type Engine struct {
	maintenanceActor *actor.PID
}

func NewEngine(system *actor.ActorSystem, store database.Store, metrics *utils.MetricsCollector) *Engine {
	context := system.Root

	// Spawn maintenance actor
	maintenanceProps := actor.PropsFromProducer(func() actor.Actor {
		return NewMaintenanceActor(store, metrics)
	})
	maintenancePID := context.Spawn(maintenanceProps)

	return &Engine{
		maintenanceActor: maintenancePID,
	}
}

// GetMaintenanceActor returns the PID of the maintenance actor
func (e *Engine) GetMaintenanceActor() *actor.PID {
	return e.maintenanceActor
}
