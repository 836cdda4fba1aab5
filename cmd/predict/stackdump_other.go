//go:build !unix

package main

import "os"

var dumpSignals []os.Signal
