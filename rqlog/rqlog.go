// Package rqlog is the thin structured-logging facade every reactorq
// component logs through. It wraps logrus the way nabbar-golib/logger
// wires per-component entries: callers get a *logrus.Entry tagged with
// a "component" field, never a bare fmt.Println.
package rqlog

import "github.com/sirupsen/logrus"

// Base is the package-level logger new component entries derive from.
// Replacing it (e.g. to change format or level) affects every component
// constructed afterwards.
var Base = logrus.New()

func init() {
	Base.SetLevel(logrus.InfoLevel)
}

// For returns a logger entry tagged with the given component name, e.g.
// rqlog.For("socket") or rqlog.For("mux.requester").
func For(component string) *logrus.Entry {
	return Base.WithField("component", component)
}

// Discard is a logger entry that drops everything. No component falls
// back to it: every component obtains its entry from For, and so logs
// through Base.
var Discard = func() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l.WithField("component", "discard")
}()

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
