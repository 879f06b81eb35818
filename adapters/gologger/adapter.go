package gologger

import (
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultName = "gatekeeper"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return glog.Resolve(name, provider, logger)
}

// Observer resolves a named logger and pairs it with metrics for one
// component, e.g. Observer("keyset", provider, nil, recorder).
func Observer(component string, provider glog.LoggerProvider, logger glog.Logger, metrics core.MetricsRecorder) core.Observer {
	component = strings.TrimSpace(component)
	name := DefaultName
	if component != "" {
		name = DefaultName + "." + component
	}
	_, resolved := Resolve(name, provider, logger)
	return core.NewObserver(component, resolved, metrics)
}
