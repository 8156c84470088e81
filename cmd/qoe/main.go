// Command qoe exposes the analysis engine's four inbound operations —
// lint, explain, optimize, workload — as a Cobra CLI over a PostgreSQL
// connection.
package main

import "github.com/queryopt/engine/cmd/qoe/cmd"

func main() {
	cmd.Execute()
}
