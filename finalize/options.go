// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package finalize

import "go.uber.org/zap"

// Option configures a Store at construction.
type Option func(*options)

type options struct {
	dev    uint16
	hasDev bool
	log    *zap.Logger
}

// WithDev carries an opaque backend-instance tag through the store. It has
// no semantic effect on content or roots.
func WithDev(dev uint16) Option {
	return func(o *options) {
		o.dev = dev
		o.hasDev = true
	}
}

// WithLogger sets the structured logger used for mutator tracing. A nil
// logger (the default) is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, fn := range opts {
		fn(o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	return o
}
