// Command iceagentd runs the ICE connectivity establishment daemon.
package main

import "github.com/gortc/iceagentd/internal/cli"

func main() {
	cli.Execute()
}
