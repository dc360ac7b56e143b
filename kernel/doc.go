// Package kernel invokes the numerical kernels that fill lookup tables.
//
// Kernels are opaque: a backend registers an implementation per ID and the
// Invoker only checks the contract around it. Every kernel has a documented
// Signature listing the published textures it reads and the constants it
// expects. The Invoker resolves every required input before the backend is
// called, so a missing texture is reported as ErrMissingDependency instead
// of surfacing as undefined kernel output.
//
// Kernel parameters travel in an immutable Args value passed to each
// invocation. There is no shared constant namespace: two invocations in the
// same frame read the same snapshot because they receive the same Args.
package kernel
