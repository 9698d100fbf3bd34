// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/stackbind/stackbind/cmd/stackbind"

func main() {
	cmd.Execute()
}
