package app

import (
	"github.com/MrWong99/voxtimer/internal/detect"
	"github.com/MrWong99/voxtimer/internal/eventbus"
	"github.com/MrWong99/voxtimer/internal/journal"
	"github.com/MrWong99/voxtimer/internal/locator"
	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/orchestrator"
	"github.com/MrWong99/voxtimer/internal/timer"
	"github.com/MrWong99/voxtimer/internal/transcript"
)

// Service keys. [New] registers every one of them exactly once.
var (
	KeyMetrics      = locator.NewKey[*observe.Metrics]("observe.metrics")
	KeyRegistry     = locator.NewKey[*timer.Registry]("timers.registry")
	KeyBus          = locator.NewKey[*eventbus.Bus]("events.bus")
	KeyOrchestrator = locator.NewKey[*orchestrator.Orchestrator]("timers.orchestrator")
	KeyCoordinator  = locator.NewKey[*detect.Coordinator]("detect.coordinator")
	KeyHistory      = locator.NewKey[*transcript.History]("transcript.history")
	KeyIngestor     = locator.NewKey[*transcript.Ingestor]("transcript.ingestor")
	KeyJournal      = locator.NewKey[*journal.Recorder]("journal.recorder")
)

// Metrics returns the metrics registered in c. It panics if c was not built
// by [New]; the same holds for every accessor below.
func Metrics(c *locator.Container) *observe.Metrics { return locator.MustResolve(c, KeyMetrics) }

// Registry returns the timer registry.
func Registry(c *locator.Container) *timer.Registry { return locator.MustResolve(c, KeyRegistry) }

// Bus returns the event bus.
func Bus(c *locator.Container) *eventbus.Bus { return locator.MustResolve(c, KeyBus) }

// Orchestrator returns the orchestrator.
func Orchestrator(c *locator.Container) *orchestrator.Orchestrator {
	return locator.MustResolve(c, KeyOrchestrator)
}

// Coordinator returns the detection coordinator.
func Coordinator(c *locator.Container) *detect.Coordinator {
	return locator.MustResolve(c, KeyCoordinator)
}

// History returns the recent utterance history.
func History(c *locator.Container) *transcript.History { return locator.MustResolve(c, KeyHistory) }

// Ingestor returns the utterance ingestor.
func Ingestor(c *locator.Container) *transcript.Ingestor {
	return locator.MustResolve(c, KeyIngestor)
}

// Journal returns the journal recorder. It has no sinks when none are
// configured.
func Journal(c *locator.Container) *journal.Recorder { return locator.MustResolve(c, KeyJournal) }
