package ldesign

import (
	"github.com/poly1603/ldesign-engine-sub002/conf"
	"github.com/poly1603/ldesign-engine-sub002/engine"
)

// New constructs an engine with the default configuration, optionally
// customized by opts.
func New(opts ...engine.Option) *engine.Engine {
	return engine.New(opts...)
}

// NewFromConfig constructs an engine configured from the given file. Later
// options can still override what the file set.
func NewFromConfig(path string, opts ...engine.Option) (*engine.Engine, error) {
	c, err := conf.Load(path)
	if err != nil {
		return nil, err
	}
	return engine.New(append([]engine.Option{engine.WithConfig(c)}, opts...)...), nil
}
