package entity

import (
	"github.com/tsinghua-fib-lab/green-corridor/clock"
	"github.com/tsinghua-fib-lab/green-corridor/utils/config"
)

type ITaskContext interface {
	Clock() *clock.Clock
	SignalRegistry() ISignalRegistry
	RoadManager() IRoadManager
	HospitalManager() IHospitalManager
	Router() IRouter
	Recorder() IRecorder
	RuntimeConfig() *config.RuntimeConfig
}
