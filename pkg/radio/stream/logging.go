package stream

import "github.com/reticulum-go/meshbridge/internal/log"

// Logger receives transport-level diagnostics. Silent by default.
var Logger log.Logger = log.NOOPLogger{}
