//go:build !atmosdebug

package pool

const debugBuild = false
