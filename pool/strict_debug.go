//go:build atmosdebug

package pool

// debugBuild makes pools strict by default: bookkeeping errors panic.
const debugBuild = true
