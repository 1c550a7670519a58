// Package cli implements the gpustat command-line interface.
//
// Each Cobra command is a thin shell over a function taking an options
// struct, so the commands can be exercised without a terminal or real hosts:
//
//	gpustat run      - collect from every host, with the live dashboard
//	gpustat check    - run one cycle per host and print the result
//	gpustat query    - print stored samples for a host
//	gpustat init     - write a new gpustat.yaml
//	gpustat version  - print build information
//
// # Flag Handling
//
// Global flags (--config, --verbose, --no-color) are defined on the root
// command and available to all subcommands.
//
// # Lifecycle
//
// run wires config, store, runner and supervisor together and keeps them in
// an errgroup with the dashboard. The first of SIGINT, SIGTERM or quitting
// the dashboard stops everything: collectors finish their in-flight cycle,
// then the SSH connections and store files are closed.
package cli
