// Package log provides structured logging for burrow components
// built on zerolog. Initialize once with Init, then use the global
// Logger or the With* helpers to derive child loggers carrying
// component and identifier fields.
package log
