package parley

// Version is the release of the parley module.
var Version = "0.1.0"
