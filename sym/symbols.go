// Package sym defines canonical glyphs for tempo system markers.
// These symbols are stable across CLI output, logs, and documentation.
package sym

// System markers used as structured log fields and CLI prefixes.
const (
	Engine = "꩜" // engine — the schedule polling loop
	Open   = "✿" // opening — graceful startup operations
	Close  = "❀" // closing — graceful shutdown operations
	DB     = "⊔" // database/storage operations
	Clock  = "✦" // temporal marker — due times, next-run computation
	Rocket = "⟶" // dispatch — a schedule handed off to the job queue
)

// All maps marker names to glyphs for introspection and tests.
var All = map[string]string{
	"engine": Engine,
	"open":   Open,
	"close":  Close,
	"db":     DB,
	"clock":  Clock,
	"rocket": Rocket,
}
