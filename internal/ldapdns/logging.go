/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging points the standard logger at a rotating file sink, the
// way the engine's host server does for all of its subsystems.
func SetupLogging(logfile string) error {
	log.SetFlags(log.Lshortfile | log.Ltime)

	if logfile == "" {
		log.SetOutput(nil)
		return nil
	}

	log.SetOutput(&lumberjack.Logger{
		Filename:   logfile,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
	})

	return nil
}
