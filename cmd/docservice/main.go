// Command docservice serves a document table over a paginated CRUD service
// and forwards its change feed to an event bus.
package main

import "github.com/nimburion/docservice/pkg/cli"

func main() {
	cli.Execute(cli.NewServiceCommand(cli.ServiceCommandOptions{
		Name:        "docservice",
		Description: "Document table service with change feed forwarding",
	}))
}
