// Package log centralizes zap logger construction so every xrpc package
// logs through the same sink and field conventions, the way the teacher
// repo funneled everything through the standard log package.
package log

import "go.uber.org/zap"

// Default is the logger used by packages that are not handed an explicit
// *zap.Logger. It is a package-level var (not a const) so a host
// application can swap it at startup, e.g. log.Default = myLogger.
var Default = mustBuild()

func mustBuild() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		// Fall back to a logger that never errors rather than panicking
		// out of an import-time init.
		return zap.NewNop()
	}
	return l
}

// Named returns Default scoped under the given component name, e.g.
// log.Named("channel").
func Named(component string) *zap.Logger {
	return Default.Named(component)
}
