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

//go:build linux
// +build linux

package stdio

import "golang.org/x/sys/unix"

// dupTo points newfd at oldfd's open description. Dup3 instead of Dup2
// because newer ports such as linux/arm64 do not carry the dup2 syscall.
func dupTo(oldfd, newfd int) error {
	if oldfd == newfd {
		// dup2 would succeed here, dup3 reports EINVAL.
		return nil
	}
	return unix.Dup3(oldfd, newfd, 0)
}
