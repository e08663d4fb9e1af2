// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/echoninelabs/kite/cmd/kite"

func main() {
	cmd.Execute()
}
