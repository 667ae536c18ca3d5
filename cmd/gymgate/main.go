// Command gymgate runs the gym dashboard authorization service.
package main

import "github.com/repclub/gymgate/cmd/gymgate/cmd"

func main() {
	cmd.Execute()
}
