package queue

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LogAdapter routes asynq's internal logging into zerolog.
type LogAdapter struct {
	log zerolog.Logger
}

// NewLogAdapter tags every line with mod=asynq.
func NewLogAdapter(log zerolog.Logger) LogAdapter {
	return LogAdapter{log: log.With().Str("mod", "asynq").Logger()}
}

func (a LogAdapter) Debug(args ...interface{}) { a.log.Debug().Msg(fmt.Sprint(args...)) }
func (a LogAdapter) Info(args ...interface{})  { a.log.Info().Msg(fmt.Sprint(args...)) }
func (a LogAdapter) Warn(args ...interface{})  { a.log.Warn().Msg(fmt.Sprint(args...)) }
func (a LogAdapter) Error(args ...interface{}) { a.log.Error().Msg(fmt.Sprint(args...)) }

// Fatal logs at fatal level, which exits the process like asynq expects.
func (a LogAdapter) Fatal(args ...interface{}) { a.log.Fatal().Msg(fmt.Sprint(args...)) }
