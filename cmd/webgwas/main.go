// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	webgwas "github.com/tatonetti-lab/webgwas-backend"
)

func main() {
	webgwas.Main()
}
