package rearview

import "github.com/sirupsen/logrus"

// Log is the package-global logger. Level, formatter and hooks can be
// changed directly on this instance.
var Log = logrus.New()
