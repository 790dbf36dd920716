package settings

// Log levels as stored in GlobalValues.LogLevel.
const (
	LogLevelDebug   uint8 = 1
	LogLevelInfo    uint8 = 2
	LogLevelVerbose uint8 = 3
)

// GlobalValues are the process-wide settings.
type GlobalValues struct {
	// TargetConnections is how many clients may be connected at the same
	// time, 1..MaxConnections.
	TargetConnections uint8
	// LogLevel is 1 (debug), 2 (info) or 3 (verbose).
	LogLevel uint8
}

// Global is the single process-wide settings instance.
type Global struct {
	cell           *Guarded[GlobalValues]
	maxConnections uint8
}

// NewGlobal creates the global settings with boot defaults: one target
// connection and debug logging. maxConnections is the connection table
// capacity and bounds TargetConnections.
func NewGlobal(maxConnections int) *Global {
	if maxConnections < 1 {
		maxConnections = 1
	}
	if maxConnections > 255 {
		maxConnections = 255
	}
	return &Global{
		cell: NewGuarded(GlobalValues{
			TargetConnections: 1,
			LogLevel:          LogLevelDebug,
		}),
		maxConnections: uint8(maxConnections),
	}
}

func targetField(v *GlobalValues) *uint8   { return &v.TargetConnections }
func logLevelField(v *GlobalValues) *uint8 { return &v.LogLevel }

// MaxConnections is the upper bound for TargetConnections.
func (g *Global) MaxConnections() uint8 {
	return g.maxConnections
}

// Snapshot returns a copy of all values, blocking until the lock is free.
func (g *Global) Snapshot() GlobalValues {
	var out GlobalValues
	g.cell.WithBlocking(func(v *GlobalValues) { out = *v })
	return out
}

// TargetConnections returns the target active connection count.
func (g *Global) TargetConnections() uint8 {
	v, _ := Get(g.cell, targetField)
	return v
}

// LogLevel returns the current log level (1..3).
func (g *Global) LogLevel() uint8 {
	v, _ := Get(g.cell, logLevelField)
	return v
}

// SetTargetConnections updates the target connection count. Values outside
// 1..MaxConnections are rejected and leave the stored value unchanged.
func (g *Global) SetTargetConnections(n uint8) bool {
	if n < 1 || n > g.maxConnections {
		return false
	}
	return Set(g.cell, targetField, n)
}

// SetLogLevel updates the log level. Values outside 1..3 are rejected.
func (g *Global) SetLogLevel(level uint8) bool {
	if level < LogLevelDebug || level > LogLevelVerbose {
		return false
	}
	return Set(g.cell, logLevelField, level)
}

// CycleLogLevel moves the log level to the next value, wrapping 3 back to 1.
func (g *Global) CycleLogLevel() bool {
	return Cycle(g.cell, logLevelField, LogLevelDebug, LogLevelVerbose)
}

// Load replaces the values while blocking on the lock. Used when restoring
// from storage at boot.
func (g *Global) Load(fn func(v *GlobalValues)) bool {
	return g.cell.WithBlocking(fn)
}
