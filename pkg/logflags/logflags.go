// Package logflags configures debug logging for the various layers of
// kmon. Logging is off by default; the --log and --log-output flags of
// the kmon command select which layers trace their activity.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var monitor = false
var mmu = false
var symbols = false
var image = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Monitor returns true if the monitor package should log.
func Monitor() bool {
	return monitor
}

// MonitorLogger returns a logger for the command interpreter and loop.
func MonitorLogger() *logrus.Entry {
	return makeLogger(monitor, logrus.Fields{"layer": "monitor"})
}

// MMU returns true if page table operations should be logged.
func MMU() bool {
	return mmu
}

// MMULogger returns a logger for the page table layer.
func MMULogger() *logrus.Entry {
	return makeLogger(mmu, logrus.Fields{"layer": "mmu"})
}

// Symbols returns true if symbol resolution should be logged.
func Symbols() bool {
	return symbols
}

// SymbolsLogger returns a logger for the symbol resolver.
func SymbolsLogger() *logrus.Entry {
	return makeLogger(symbols, logrus.Fields{"layer": "sym"})
}

// Image returns true if machine image loading should be logged.
func Image() bool {
	return image
}

// ImageLogger returns a logger for the image loader.
func ImageLogger() *logrus.Entry {
	return makeLogger(image, logrus.Fields{"layer": "image"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets layer logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "monitor"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "monitor":
			monitor = true
		case "mmu":
			mmu = true
		case "sym":
			symbols = true
		case "image":
			image = true
		}
	}
	return nil
}
