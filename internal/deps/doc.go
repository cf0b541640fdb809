// Package deps resolves dependency aliases declared by code units into the
// source text of locally hosted library bundles.
//
// The alias table is fixed at compile time; no user-supplied URL is ever
// fetched. Unknown aliases are dropped with a warning, but a load failure
// for a known alias fails the whole unit: partial dependency sets are not
// injected, to avoid confusing runtime errors inside user code.
package deps
