// Package logx is a small structured logging facade over zerolog.
//
// It exists so that packages depend on a stable Logger value type while the
// app can swap sinks and levels at runtime via Service.Apply.
package logx
