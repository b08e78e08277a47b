package main

import (
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

func newSupervisor(logger *zap.Logger) *suture.Supervisor {
	return suture.New("bridgewatch", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("supervisor event", zap.String("event", e.String()), zap.Any("details", e.Map()))
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
}
