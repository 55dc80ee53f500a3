// Package control is the broker's runtime introspection layer:
// a metrics registry the Program updates once per event-loop
// iteration, and a debug-probe registry other packages can hook into
// for ad hoc state dumps, adapted from the teacher's control package.
package control
