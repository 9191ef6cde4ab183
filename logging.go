package gopub

import (
	"errors"
	"os"
	"strings"

	"github.com/RoanBrand/gopub/internal/config"
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies the optional log file and level to the standard logger.
func ConfigureLogging(c config.Log) error {
	if c.File != "" {
		f, err := os.OpenFile(c.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	if c.Level != "" {
		switch strings.ToLower(c.Level) {
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "warn":
			log.SetLevel(log.WarnLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		default:
			return errors.New("unknown log level: " + c.Level)
		}
	}
	return nil
}
