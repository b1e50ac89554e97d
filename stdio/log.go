// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package stdio

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// _log holds a *zap.Logger. Access via logger / SetLogger only.
var _log atomic.Value

func init() {
	_log.Store(zap.NewNop())
}

// SetLogger installs the logger used for diagnostics that have no error
// channel, such as restore failures during Release. The default is a nop
// logger. Passing nil restores the default.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	_log.Store(l)
}

func logger() *zap.Logger {
	return _log.Load().(*zap.Logger)
}
