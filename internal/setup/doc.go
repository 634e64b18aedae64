// Package setup holds the host defaults of uupiso and checks that the host can
// run a conversion: required tools on PATH and enough free disk space.
//
// This package is a collection of constants and host probes, and is therefore
// the only package that is allowed to call a global logger.
package setup
