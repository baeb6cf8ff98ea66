// Package logging provides structured logging using uber/zap.
//
// The server logs JSON; development mode switches to colored console output.
// Components take a *zap.Logger and name themselves with Named. The Field*
// keys are shared so a navigation can be followed from the content side to
// the privileged side:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	log := logging.ForNavigation(logger.Component("content"), navID, pageURL)
//	log.Info("script delivered", zap.String(logging.FieldScript, id))
package logging
