// Package logx is contestbot's logging layer: a zerolog-backed Logger value
// with typed fields, and a Service whose sinks (console, JSON file, operator
// notices over the delivery channel) can be swapped at runtime by Apply.
package logx
